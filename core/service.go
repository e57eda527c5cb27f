package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

var (
	ErrEndpointNotFound = errors.New("core: webhook endpoint not found")
	ErrRuleNotFound     = errors.New("core: approval rule not found")
	ErrRequestNotFound  = errors.New("core: approval request not found")
)

// Service is the webhook delivery and approval gating engine. All state lives
// behind the two registries; collaborators are ports so transports and stores
// stay swappable.
type Service struct {
	config             Config
	logger             Logger
	loggerProvider     LoggerProvider
	metricsRecorder    MetricsRecorder
	errorFactory       ErrorFactory
	errorMapper        ErrorMapper
	configProvider     ConfigProvider
	optionsResolver    OptionsResolver
	webhooks           *webhookRegistry
	approvals          *approvalRegistry
	snapshotStore      SnapshotStore
	deliveryArchive    DeliveryLogArchive
	secretProvider     SigningSecretProvider
	signer             PayloadSigner
	authorizer         DeliveryAuthorizer
	transport          TransportAdapter
	inflightLedger     InflightLedger
	conditionEvaluator ConditionEvaluator
	deliveryQueue      DeliveryQueue
	rateLimitPolicy    RateLimitPolicy
	statusSink         DeploymentStatusSink
	runner             *deliveryRunner
	idGenerator        func() string
	now                func() time.Time
}

type ServiceDependencies struct {
	Logger             Logger
	LoggerProvider     LoggerProvider
	MetricsRecorder    MetricsRecorder
	ErrorFactory       ErrorFactory
	ErrorMapper        ErrorMapper
	ConfigProvider     ConfigProvider
	OptionsResolver    OptionsResolver
	SnapshotStore      SnapshotStore
	DeliveryArchive    DeliveryLogArchive
	SecretProvider     SigningSecretProvider
	PayloadSigner      PayloadSigner
	DeliveryAuthorizer DeliveryAuthorizer
	Transport          TransportAdapter
	InflightLedger     InflightLedger
	ConditionEvaluator ConditionEvaluator
	DeliveryQueue      DeliveryQueue
	RateLimitPolicy    RateLimitPolicy
	StatusSink         DeploymentStatusSink
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("gatekeeper", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("gatekeeper"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.idGenerator == nil {
		builder.idGenerator = uuid.NewString
	}
	if builder.now == nil {
		builder.now = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.snapshotStore == nil {
		builder.snapshotStore = NewMemorySnapshotStore()
	}
	if builder.inflightLedger == nil {
		builder.inflightLedger = NewMemoryInflightLedger(finalConfig.Delivery.InflightTTL())
	}
	if builder.signer == nil {
		codec := NewSignatureCodec()
		if prefix := strings.TrimSpace(finalConfig.Webhooks.SignaturePrefix); prefix != "" {
			codec.Prefix = prefix
		}
		if encoding := strings.TrimSpace(finalConfig.Webhooks.SignatureEncoding); encoding != "" {
			codec.Encoding = encoding
		}
		builder.signer = codec
	}

	service := &Service{
		config:             finalConfig,
		logger:             logger,
		loggerProvider:     provider,
		metricsRecorder:    builder.metricsRecorder,
		errorFactory:       builder.errorFactory,
		errorMapper:        builder.errorMapper,
		configProvider:     builder.configProvider,
		optionsResolver:    builder.optionsResolver,
		webhooks:           newWebhookRegistry(finalConfig.Webhooks.LogRetention),
		approvals:          newApprovalRegistry(),
		snapshotStore:      builder.snapshotStore,
		deliveryArchive:    builder.deliveryArchive,
		secretProvider:     builder.secretProvider,
		signer:             builder.signer,
		authorizer:         builder.authorizer,
		transport:          builder.transport,
		inflightLedger:     builder.inflightLedger,
		conditionEvaluator: builder.conditionEvaluator,
		deliveryQueue:      builder.deliveryQueue,
		rateLimitPolicy:    builder.rateLimitPolicy,
		statusSink:         builder.statusSink,
		runner:             newDeliveryRunner(),
		idGenerator:        builder.idGenerator,
		now:                builder.now,
	}

	if err := service.hydrate(context.Background()); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	return service, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:             s.logger,
		LoggerProvider:     s.loggerProvider,
		MetricsRecorder:    s.metricsRecorder,
		ErrorFactory:       s.errorFactory,
		ErrorMapper:        s.errorMapper,
		ConfigProvider:     s.configProvider,
		OptionsResolver:    s.optionsResolver,
		SnapshotStore:      s.snapshotStore,
		DeliveryArchive:    s.deliveryArchive,
		SecretProvider:     s.secretProvider,
		PayloadSigner:      s.signer,
		DeliveryAuthorizer: s.authorizer,
		Transport:          s.transport,
		InflightLedger:     s.inflightLedger,
		ConditionEvaluator: s.conditionEvaluator,
		DeliveryQueue:      s.deliveryQueue,
		RateLimitPolicy:    s.rateLimitPolicy,
		StatusSink:         s.statusSink,
	}
}

func (s *Service) RegisterEndpoint(ctx context.Context, input RegisterEndpointInput) (endpoint WebhookEndpoint, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"endpoint_id": input.ID,
		"url":         input.URL,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "register_endpoint", err, fields)
	}()

	name := strings.TrimSpace(input.Name)
	url := strings.TrimSpace(input.URL)
	if name == "" {
		err = s.badInput("webhook endpoint name is required", nil)
		return WebhookEndpoint{}, err
	}
	if url == "" {
		err = s.badInput("webhook endpoint url is required", nil)
		return WebhookEndpoint{}, err
	}
	if err = input.Auth.Validate(); err != nil {
		err = s.mapError(err)
		return WebhookEndpoint{}, err
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = s.newID()
	}
	fields["endpoint_id"] = id

	retry := s.config.Delivery.Policy()
	if input.Retry != nil {
		retry = *input.Retry
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = s.config.Delivery.AttemptTimeout()
	}

	now := s.nowUTC()
	endpoint = WebhookEndpoint{
		ID:        id,
		Name:      name,
		URL:       url,
		Enabled:   input.Enabled,
		Events:    normalizeEventTypes(input.Events),
		Auth:      input.Auth.Clone(),
		Retry:     retry,
		Timeout:   timeout,
		Secret:    strings.TrimSpace(input.Secret),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := s.webhooks.Endpoint(id); ok {
		endpoint.CreatedAt = existing.CreatedAt
	}

	s.webhooks.UpsertEndpoint(endpoint)
	s.persistWebhookState(ctx, "register_endpoint")
	return endpoint.Clone(), nil
}

// UpdateEndpoint applies a partial update. An unknown id is a silent no-op:
// Found is false and the error is nil.
func (s *Service) UpdateEndpoint(ctx context.Context, id string, patch EndpointPatch) (result EndpointUpdateResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"endpoint_id": id,
	}
	defer func() {
		fields["found"] = result.Found
		s.observeOperation(ctx, startedAt, "update_endpoint", err, fields)
	}()

	id = strings.TrimSpace(id)
	if id == "" {
		err = s.badInput("webhook endpoint id is required", nil)
		return EndpointUpdateResult{}, err
	}

	current, ok := s.webhooks.Endpoint(id)
	if !ok {
		return EndpointUpdateResult{}, nil
	}

	updated := patch.Apply(current, s.nowUTC())
	if strings.TrimSpace(updated.URL) == "" {
		err = s.badInput("webhook endpoint url cannot be cleared", map[string]any{"endpoint_id": id})
		return EndpointUpdateResult{}, err
	}
	if err = updated.Auth.Validate(); err != nil {
		err = s.mapError(err)
		return EndpointUpdateResult{}, err
	}

	if current.Enabled && !updated.Enabled {
		s.runner.cancel(id)
	}

	s.webhooks.UpsertEndpoint(updated)
	s.persistWebhookState(ctx, "update_endpoint")
	return EndpointUpdateResult{Endpoint: updated.Clone(), Found: true}, nil
}

// RemoveEndpoint deletes the endpoint and cancels any pending retry wait.
// Delivery logs are kept. Removing an unknown id is a no-op.
func (s *Service) RemoveEndpoint(ctx context.Context, id string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"endpoint_id": id,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "remove_endpoint", err, fields)
	}()

	id = strings.TrimSpace(id)
	if id == "" {
		err = s.badInput("webhook endpoint id is required", nil)
		return err
	}

	s.runner.cancel(id)
	removed := s.webhooks.RemoveEndpoint(id)
	fields["found"] = removed
	if removed {
		s.persistWebhookState(ctx, "remove_endpoint")
	}
	return nil
}

func (s *Service) GetEndpoint(ctx context.Context, id string) (WebhookEndpoint, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return WebhookEndpoint{}, s.badInput("webhook endpoint id is required", nil)
	}
	endpoint, ok := s.webhooks.Endpoint(id)
	if !ok {
		return WebhookEndpoint{}, s.endpointNotFound(id)
	}
	return endpoint, nil
}

func (s *Service) ListEndpoints(ctx context.Context) ([]WebhookEndpoint, error) {
	if s == nil || s.webhooks == nil {
		return nil, fmt.Errorf("core: webhook registry unavailable")
	}
	return s.webhooks.Endpoints(), nil
}

func (s *Service) EndpointsForEvent(ctx context.Context, event string) ([]WebhookEndpoint, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, s.badInput("event type is required", nil)
	}
	return s.webhooks.EndpointsForEvent(event), nil
}

// DeliveryLogs returns the retained log window for one endpoint id, newest
// first. An empty id returns the whole window. Ids with no logs yield an
// empty slice, not an error, so logs of deleted endpoints stay reachable.
func (s *Service) DeliveryLogs(ctx context.Context, webhookID string) ([]DeliveryLog, error) {
	if s == nil || s.webhooks == nil {
		return nil, fmt.Errorf("core: webhook registry unavailable")
	}
	return s.webhooks.Logs(strings.TrimSpace(webhookID)), nil
}

func (s *Service) endpointNotFound(id string) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("webhook endpoint %q not found", id),
		goerrors.CategoryNotFound,
	).WithTextCode(GatekeeperErrorNotFound)
	return wrapped.WithMetadata(map[string]any{"endpoint_id": id})
}

func (s *Service) badInput(message string, metadata map[string]any) error {
	wrapped := s.errorFactory(message, goerrors.CategoryBadInput).
		WithTextCode(GatekeeperErrorBadInput)
	if len(metadata) > 0 {
		wrapped = wrapped.WithMetadata(metadata)
	}
	return wrapped
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) nowUTC() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Service) newID() string {
	if s == nil || s.idGenerator == nil {
		return uuid.NewString()
	}
	return s.idGenerator()
}
