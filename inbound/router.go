package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-gatekeeper/core"
)

// DefaultSignatureHeader carries the HMAC signature on inbound requests,
// mirroring the header outbound deliveries are signed with.
const DefaultSignatureHeader = "X-Webhook-Signature"

// ApprovalActions is the slice of the approval engine the router forwards
// approval responses into. *core.Service satisfies it.
type ApprovalActions interface {
	RecordAction(ctx context.Context, requestID string, input core.ActionInput) (core.ApprovalRequest, error)
}

// Router dispatches inbound webhook requests by payload event type. Requests
// are verified before any state is touched; validation failures convert to
// {success:false, message} results and never mutate the engine.
type Router struct {
	// Approvals receives approval.response actions. Required for that event.
	Approvals ApprovalActions
	// Deployments receives deployment.status updates. Required for that event.
	Deployments core.DeploymentStatusSink
	// Signer verifies payload signatures. Defaults to the HMAC-SHA256 codec.
	Signer core.PayloadSigner
	// Secrets resolves the verification secret; consulted with an empty
	// endpoint id. The static Secret field is the fallback. Both empty means
	// signature checks are skipped.
	Secrets         core.SigningSecretProvider
	Secret          string
	SignatureHeader string
	// Limiter throttles per source when set.
	Limiter *SourceLimiter
	Logger  core.Logger
}

func NewRouter(approvals ApprovalActions) *Router {
	return &Router{
		Approvals:       approvals,
		Signer:          core.NewSignatureCodec(),
		SignatureHeader: DefaultSignatureHeader,
	}
}

type inboundEnvelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// Handle routes one inbound request. Errors are converted at this boundary;
// callers always get a result with an HTTP-equivalent status code.
func (r *Router) Handle(ctx context.Context, req core.InboundRequest) core.InboundResult {
	result, err := r.route(ctx, req)
	if err != nil {
		failure := resultFromError(err)
		r.logRejection(ctx, req, failure, err)
		return failure
	}
	return result
}

func (r *Router) route(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if r == nil {
		return core.InboundResult{}, inboundInternal("inbound router is not configured", nil)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost {
		return core.InboundResult{}, inboundMethodNotAllowed(method)
	}

	if r.Limiter != nil {
		if err := r.Limiter.Allow(req.Source); err != nil {
			return core.InboundResult{}, err
		}
	}

	var envelope inboundEnvelope
	if err := json.Unmarshal(req.Body, &envelope); err != nil {
		return core.InboundResult{}, inboundMalformedPayload(err)
	}

	secret, err := r.signingSecret(ctx)
	if err != nil {
		return core.InboundResult{}, inboundWrapError(
			err,
			goerrors.CategoryInternal,
			"Unable to verify signature",
			http.StatusInternalServerError,
			core.GatekeeperErrorInternal,
			nil,
		)
	}
	if secret != "" {
		signature := headerValue(req.Headers, r.signatureHeader())
		if !r.signer().Verify(req.Body, signature, secret) {
			var metadata map[string]any
			if source := strings.TrimSpace(req.Source); source != "" {
				metadata = map[string]any{"source": source}
			}
			return core.InboundResult{}, inboundInvalidSignature(metadata)
		}
	}

	switch event := strings.TrimSpace(envelope.Event); event {
	case core.EventApprovalResponse:
		return r.routeApprovalResponse(ctx, event, envelope.Data)
	case core.EventDeploymentStatus:
		return r.routeDeploymentStatus(ctx, event, envelope.Data)
	default:
		return core.InboundResult{}, inboundUnknownEvent(event)
	}
}

func (r *Router) routeApprovalResponse(ctx context.Context, event string, data map[string]any) (core.InboundResult, error) {
	if r.Approvals == nil {
		return core.InboundResult{}, inboundInternal(
			"approval engine is not configured",
			map[string]any{"event": event},
		)
	}

	requestID := stringField(data, "requestId")
	action := stringField(data, "action")
	userID := stringField(data, "userId")

	missing := make([]string, 0, 3)
	if requestID == "" {
		missing = append(missing, "requestId")
	}
	if action == "" {
		missing = append(missing, "action")
	}
	if userID == "" {
		missing = append(missing, "userId")
	}
	if len(missing) > 0 {
		return core.InboundResult{}, inboundMissingFields(missing, map[string]any{"event": event})
	}

	input := core.ActionInput{
		UserID:    userID,
		UserName:  stringField(data, "userName"),
		UserEmail: stringField(data, "userEmail"),
		Action:    core.ActionKind(strings.ToLower(action)),
		Comment:   stringField(data, "comment"),
	}
	request, err := r.Approvals.RecordAction(ctx, requestID, input)
	if err != nil {
		return core.InboundResult{}, err
	}
	return core.InboundResult{
		Success:    true,
		Message:    "Approval response recorded",
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"event":      event,
			"request_id": request.ID,
			"status":     string(request.Status),
		},
	}, nil
}

func (r *Router) routeDeploymentStatus(ctx context.Context, event string, data map[string]any) (core.InboundResult, error) {
	if r.Deployments == nil {
		return core.InboundResult{}, inboundInternal(
			"deployment status sink is not configured",
			map[string]any{"event": event},
		)
	}

	deploymentID := stringField(data, "deploymentId")
	status := stringField(data, "status")
	missing := make([]string, 0, 2)
	if deploymentID == "" {
		missing = append(missing, "deploymentId")
	}
	if status == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return core.InboundResult{}, inboundMissingFields(missing, map[string]any{"event": event})
	}

	var metadata map[string]any
	for key, value := range data {
		if key == "deploymentId" || key == "status" {
			continue
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}

	update := core.DeploymentStatusUpdate{
		DeploymentID: deploymentID,
		Status:       status,
		Metadata:     metadata,
	}
	if err := r.Deployments.UpdateStatus(ctx, update); err != nil {
		return core.InboundResult{}, inboundWrapError(
			err,
			goerrors.CategoryExternal,
			"Unable to forward deployment status",
			http.StatusBadGateway,
			core.GatekeeperErrorDeliveryTransport,
			map[string]any{"event": event, "deployment_id": deploymentID},
		)
	}
	return core.InboundResult{
		Success:    true,
		Message:    "Deployment status forwarded",
		StatusCode: http.StatusOK,
		Metadata: map[string]any{
			"event":         event,
			"deployment_id": deploymentID,
			"status":        status,
		},
	}, nil
}

// signingSecret resolves the verification secret: the provider wins, then the
// static field. Empty means inbound requests are accepted unsigned.
func (r *Router) signingSecret(ctx context.Context) (string, error) {
	if r == nil {
		return "", nil
	}
	if r.Secrets != nil {
		secret, err := r.Secrets.SecretFor(ctx, "")
		if err != nil {
			return "", fmt.Errorf("inbound: resolve signing secret: %w", err)
		}
		if secret = strings.TrimSpace(secret); secret != "" {
			return secret, nil
		}
	}
	return strings.TrimSpace(r.Secret), nil
}

func (r *Router) signer() core.PayloadSigner {
	if r != nil && r.Signer != nil {
		return r.Signer
	}
	return core.NewSignatureCodec()
}

func (r *Router) signatureHeader() string {
	if r != nil {
		if header := strings.TrimSpace(r.SignatureHeader); header != "" {
			return header
		}
	}
	return DefaultSignatureHeader
}

func (r *Router) logRejection(ctx context.Context, req core.InboundRequest, result core.InboundResult, err error) {
	if r == nil || r.Logger == nil {
		return
	}
	logger := r.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Error("inbound webhook rejected",
		"path", req.Path,
		"source", req.Source,
		"status_code", result.StatusCode,
		"error", err.Error(),
	)
}

func stringField(data map[string]any, key string) string {
	if len(data) == 0 {
		return ""
	}
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "<nil>" {
		return ""
	}
	return text
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
