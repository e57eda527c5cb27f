package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// errDeliverySetup marks attempt failures that happened before the request
// left the process (payload encoding, secret or auth resolution). Retrying
// cannot fix those, so the chain aborts instead of burning attempts.
var errDeliverySetup = errors.New("core: delivery setup failed")

// DeliverEvent runs one full delivery chain against a single endpoint:
// initial attempt plus up to MaxRetries retries with exponential backoff.
// Disabled endpoints, throttled endpoints, and duplicate in-flight deliveries
// return a skipped outcome with a nil error.
func (s *Service) DeliverEvent(ctx context.Context, endpointID string, event string, data map[string]any) (outcome DeliveryOutcome, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"endpoint_id": endpointID,
		"event":       event,
	}
	defer func() {
		fields["attempts"] = outcome.Attempts
		fields["success"] = outcome.Success
		if outcome.Skipped {
			fields["skip_reason"] = outcome.SkipReason
		}
		s.observeOperation(ctx, startedAt, "deliver_event", err, fields)
	}()

	endpointID = strings.TrimSpace(endpointID)
	event = strings.TrimSpace(event)
	if endpointID == "" {
		err = s.badInput("webhook endpoint id is required", nil)
		return DeliveryOutcome{}, err
	}
	if event == "" {
		err = s.badInput("event type is required", nil)
		return DeliveryOutcome{}, err
	}
	if s.transport == nil {
		err = s.mapError(fmt.Errorf("core: transport adapter is not configured"))
		return DeliveryOutcome{}, err
	}

	endpoint, ok := s.webhooks.Endpoint(endpointID)
	if !ok {
		err = s.endpointNotFound(endpointID)
		return DeliveryOutcome{}, err
	}
	outcome = DeliveryOutcome{EndpointID: endpoint.ID, Event: event}
	if !endpoint.Enabled {
		outcome.Skipped = true
		outcome.SkipReason = "endpoint disabled"
		return outcome, nil
	}

	if s.rateLimitPolicy != nil {
		if limitErr := s.rateLimitPolicy.BeforeCall(ctx, RateLimitKey{EndpointID: endpoint.ID}); limitErr != nil {
			outcome.Skipped = true
			outcome.SkipReason = "throttled"
			s.logInfo(ctx, "delivery throttled", map[string]any{
				"endpoint_id": endpoint.ID,
				"event":       event,
				"error":       limitErr.Error(),
			})
			return outcome, nil
		}
	}

	claimKey := DeliveryKey(endpoint.ID, s.nowUTC().UnixMilli())
	if s.inflightLedger != nil {
		claimed, claimErr := s.inflightLedger.Claim(ctx, claimKey, s.config.Delivery.InflightTTL())
		if claimErr != nil {
			err = s.mapError(claimErr)
			return DeliveryOutcome{}, err
		}
		if !claimed {
			outcome.Skipped = true
			outcome.SkipReason = "duplicate in-flight delivery"
			return outcome, nil
		}
		defer func() {
			_ = s.inflightLedger.Release(ctx, claimKey)
		}()
	}

	outcome, err = s.runDeliveryChain(ctx, endpoint, event, data, 0)
	return outcome, err
}

// runDeliveryChain executes attempts startAttempt..MaxRetries sequentially.
// Every attempt is logged; the backoff wait between attempts is cancellable
// through the runner when the endpoint is disabled or removed mid-chain.
func (s *Service) runDeliveryChain(ctx context.Context, endpoint WebhookEndpoint, event string, data map[string]any, startAttempt int) (DeliveryOutcome, error) {
	ctx, release := s.runner.track(ctx, endpoint.ID)
	defer release()

	outcome := DeliveryOutcome{EndpointID: endpoint.ID, Event: event}
	maxRetries := endpoint.Retry.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if startAttempt < 0 {
		startAttempt = 0
	}

	var lastErr error
	for attempt := startAttempt; attempt <= maxRetries; attempt++ {
		log, meta, attemptErr := s.attemptDelivery(ctx, endpoint, event, data, attempt)
		s.recordDeliveryLog(ctx, log)
		s.feedRateLimit(ctx, endpoint.ID, meta)

		outcome.Attempts = attempt - startAttempt + 1
		outcome.LastLog = log
		if attemptErr == nil {
			outcome.Success = true
			return outcome, nil
		}
		lastErr = attemptErr

		if errors.Is(attemptErr, errDeliverySetup) {
			return outcome, s.mapError(attemptErr)
		}
		if attempt >= maxRetries {
			break
		}
		if waitErr := waitWithContext(ctx, endpoint.Retry.NextDelay(attempt)); waitErr != nil {
			return outcome, s.mapError(fmt.Errorf("core: delivery chain cancelled: %w", waitErr))
		}
	}
	return outcome, s.mapError(lastErr)
}

// attemptDelivery performs one signed POST. The envelope is rebuilt fresh
// with the current timestamp, so retried attempts carry new timestamps and
// new signatures.
func (s *Service) attemptDelivery(ctx context.Context, endpoint WebhookEndpoint, event string, data map[string]any, attempt int) (DeliveryLog, DeliveryResponseMeta, error) {
	start := time.Now()
	timestamp := s.nowUTC().UnixMilli()

	log := DeliveryLog{
		ID:         s.newID(),
		WebhookID:  endpoint.ID,
		Event:      event,
		Request:    DeliveryRequest{URL: endpoint.URL},
		RetryCount: attempt,
		Timestamp:  s.nowUTC(),
	}

	body, signature, buildErr := s.signedPayload(ctx, endpoint, event, data, timestamp)
	if buildErr != nil {
		log.Error = buildErr.Error()
		log.Duration = time.Since(start)
		return log, DeliveryResponseMeta{}, fmt.Errorf("%w: %v", errDeliverySetup, buildErr)
	}

	headers := map[string]string{
		"Content-Type":        "application/json",
		"User-Agent":          s.config.Delivery.UserAgent,
		"X-Webhook-Event":     event,
		"X-Webhook-Timestamp": strconv.FormatInt(timestamp, 10),
		"X-Webhook-Attempt":   strconv.Itoa(attempt + 1),
	}
	if signature != "" {
		headers["X-Webhook-Signature"] = signature
	}
	authHeaders, authErr := s.authHeaders(ctx, endpoint.Auth)
	if authErr != nil {
		log.Error = authErr.Error()
		log.Duration = time.Since(start)
		return log, DeliveryResponseMeta{}, fmt.Errorf("%w: %v", errDeliverySetup, authErr)
	}
	for key, value := range authHeaders {
		headers[key] = value
	}
	log.Request.Headers = headers
	log.Request.Payload = body

	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = s.config.Delivery.AttemptTimeout()
	}
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, doErr := s.transport.Do(attemptCtx, TransportRequest{
		Method:               http.MethodPost,
		URL:                  endpoint.URL,
		Headers:              headers,
		Body:                 body,
		Timeout:              timeout,
		MaxResponseBodyBytes: s.config.Delivery.MaxResponseBodyBytes,
		Metadata: map[string]any{
			"endpoint_id": endpoint.ID,
			"event":       event,
			"attempt":     attempt + 1,
		},
	})
	log.Duration = time.Since(start)
	if doErr != nil {
		log.Error = doErr.Error()
		return log, DeliveryResponseMeta{}, s.transportFailure(endpoint.ID, event, doErr)
	}

	log.Response = &DeliveryResponse{
		StatusCode: res.StatusCode,
		Body:       string(res.Body),
	}
	meta := DeliveryResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
		RetryAfter: retryAfterHint(res.Headers),
		Metadata:   res.Metadata,
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		log.Success = true
		return log, meta, nil
	}
	log.Error = fmt.Sprintf("endpoint responded with status %d", res.StatusCode)
	return log, meta, s.httpFailure(endpoint.ID, event, res.StatusCode)
}

// signedPayload builds the wire envelope. The signature covers the envelope
// without its signature field; when present it is embedded in the body and
// mirrored in the X-Webhook-Signature header.
func (s *Service) signedPayload(ctx context.Context, endpoint WebhookEndpoint, event string, data map[string]any, timestamp int64) ([]byte, string, error) {
	envelope := EventPayload{
		Event:     event,
		Timestamp: timestamp,
		Data:      data,
	}
	unsigned, err := json.Marshal(envelope)
	if err != nil {
		return nil, "", fmt.Errorf("core: encode event payload: %w", err)
	}

	secret, err := s.signingSecret(ctx, endpoint)
	if err != nil {
		return nil, "", err
	}
	if s.signer == nil || secret == "" {
		return unsigned, "", nil
	}
	signature := s.signer.Sign(unsigned, secret)
	if signature == "" {
		return unsigned, "", nil
	}
	envelope.Signature = signature
	signed, err := json.Marshal(envelope)
	if err != nil {
		return nil, "", fmt.Errorf("core: encode signed event payload: %w", err)
	}
	return signed, signature, nil
}

// signingSecret resolves the signing secret for one endpoint: the endpoint's
// own secret wins, then the secret provider, then the registry-wide config
// secret. Empty means deliveries go unsigned.
func (s *Service) signingSecret(ctx context.Context, endpoint WebhookEndpoint) (string, error) {
	if secret := strings.TrimSpace(endpoint.Secret); secret != "" {
		return secret, nil
	}
	if s.secretProvider != nil {
		secret, err := s.secretProvider.SecretFor(ctx, endpoint.ID)
		if err != nil {
			return "", fmt.Errorf("core: resolve signing secret for endpoint %q: %w", endpoint.ID, err)
		}
		if secret = strings.TrimSpace(secret); secret != "" {
			return secret, nil
		}
	}
	return strings.TrimSpace(s.config.Webhooks.SigningSecret), nil
}

func (s *Service) authHeaders(ctx context.Context, auth EndpointAuth) (map[string]string, error) {
	if s.authorizer != nil {
		return s.authorizer.Headers(ctx, auth)
	}
	kind := auth.Kind
	if strings.TrimSpace(string(kind)) == "" {
		kind = AuthKindNone
	}
	if kind == AuthKindNone {
		return nil, nil
	}
	return nil, fmt.Errorf("core: endpoint auth kind %q requires a delivery authorizer", auth.Kind)
}

func (s *Service) recordDeliveryLog(ctx context.Context, log DeliveryLog) {
	s.webhooks.AppendLog(log)
	s.persistWebhookState(ctx, "append_delivery_log")
	if s.deliveryArchive != nil {
		if err := s.deliveryArchive.Append(ctx, log); err != nil {
			s.logError(ctx, "delivery log archive append failed", map[string]any{
				"log_id":      log.ID,
				"endpoint_id": log.WebhookID,
				"error":       err.Error(),
			})
		}
	}
}

func (s *Service) feedRateLimit(ctx context.Context, endpointID string, meta DeliveryResponseMeta) {
	if s.rateLimitPolicy == nil || meta.StatusCode == 0 {
		return
	}
	if err := s.rateLimitPolicy.AfterCall(ctx, RateLimitKey{EndpointID: endpointID}, meta); err != nil {
		s.logError(ctx, "rate limit feedback failed", map[string]any{
			"endpoint_id": endpointID,
			"error":       err.Error(),
		})
	}
}

// retryAfterHint reads a delta-seconds Retry-After value. HTTP-date values
// are ignored.
func retryAfterHint(headers map[string]string) *time.Duration {
	for key, value := range headers {
		if !strings.EqualFold(strings.TrimSpace(key), "Retry-After") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds < 0 {
			return nil
		}
		delay := time.Duration(seconds) * time.Second
		return &delay
	}
	return nil
}

func (s *Service) transportFailure(endpointID, event string, source error) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("delivery transport failure for endpoint %q: %v", endpointID, source),
		goerrors.CategoryExternal,
	).WithTextCode(GatekeeperErrorDeliveryTransport)
	return wrapped.WithMetadata(map[string]any{
		"endpoint_id": endpointID,
		"event":       event,
	})
}

func (s *Service) httpFailure(endpointID, event string, status int) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("endpoint %q responded with status %d", endpointID, status),
		goerrors.CategoryOperation,
	).WithTextCode(GatekeeperErrorDeliveryHTTP)
	return wrapped.WithMetadata(map[string]any{
		"endpoint_id": endpointID,
		"event":       event,
		"status_code": status,
	})
}

// ProcessQueuedDelivery runs one queued attempt. A failed attempt with
// retries left re-enqueues the next task at its backoff deadline when a
// queue is configured, and finishes the chain in-process otherwise. Delivery
// failures land in the log rather than the return value; a non-nil error
// means the task itself was unprocessable.
func (s *Service) ProcessQueuedDelivery(ctx context.Context, task DeliveryTask) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"endpoint_id": task.EndpointID,
		"event":       task.Event,
		"attempt":     task.Attempt,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "process_queued_delivery", err, fields)
	}()

	endpointID := strings.TrimSpace(task.EndpointID)
	event := strings.TrimSpace(task.Event)
	if endpointID == "" || event == "" {
		err = s.badInput("queued delivery task requires endpoint id and event", nil)
		return err
	}
	if task.Attempt < 0 {
		err = s.badInput("queued delivery task attempt must not be negative", nil)
		return err
	}
	if s.transport == nil {
		err = s.mapError(fmt.Errorf("core: transport adapter is not configured"))
		return err
	}

	endpoint, ok := s.webhooks.Endpoint(endpointID)
	if !ok || !endpoint.Enabled {
		s.logInfo(ctx, "queued delivery dropped", map[string]any{
			"endpoint_id": endpointID,
			"event":       event,
			"reason":      "endpoint missing or disabled",
		})
		return nil
	}
	if task.Attempt > endpoint.Retry.MaxRetries {
		return nil
	}

	chainCtx, release := s.runner.track(ctx, endpoint.ID)
	defer release()

	if !task.RunAt.IsZero() {
		if delay := task.RunAt.Sub(s.nowUTC()); delay > 0 {
			if waitErr := waitWithContext(chainCtx, delay); waitErr != nil {
				err = s.mapError(fmt.Errorf("core: queued delivery cancelled: %w", waitErr))
				return err
			}
		}
	}

	log, meta, attemptErr := s.attemptDelivery(chainCtx, endpoint, event, task.Data, task.Attempt)
	s.recordDeliveryLog(ctx, log)
	s.feedRateLimit(ctx, endpoint.ID, meta)
	if attemptErr == nil {
		return nil
	}
	if errors.Is(attemptErr, errDeliverySetup) {
		err = s.mapError(attemptErr)
		return err
	}
	if task.Attempt >= endpoint.Retry.MaxRetries {
		return nil
	}

	if s.deliveryQueue != nil {
		next := DeliveryTask{
			EndpointID: endpoint.ID,
			Event:      event,
			Data:       task.Data,
			Attempt:    task.Attempt + 1,
			RunAt:      s.nowUTC().Add(endpoint.Retry.NextDelay(task.Attempt)),
		}
		if enqueueErr := s.deliveryQueue.Enqueue(ctx, next); enqueueErr != nil {
			err = s.mapError(fmt.Errorf("core: enqueue retry attempt: %w", enqueueErr))
			return err
		}
		return nil
	}

	if waitErr := waitWithContext(chainCtx, endpoint.Retry.NextDelay(task.Attempt)); waitErr != nil {
		err = s.mapError(fmt.Errorf("core: queued delivery cancelled: %w", waitErr))
		return err
	}
	if _, chainErr := s.runDeliveryChain(chainCtx, endpoint, event, task.Data, task.Attempt+1); chainErr != nil {
		s.logError(ctx, "queued delivery chain failed", map[string]any{
			"endpoint_id": endpoint.ID,
			"event":       event,
			"error":       chainErr.Error(),
		})
	}
	return nil
}
