package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig      Config
	logger             Logger
	loggerProvider     LoggerProvider
	metricsRecorder    MetricsRecorder
	errorFactory       ErrorFactory
	errorMapper        ErrorMapper
	configProvider     ConfigProvider
	optionsResolver    OptionsResolver
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
	idGenerator        func() string
	now                func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithSnapshotStore(store SnapshotStore) Option {
	return func(b *serviceBuilder) {
		b.snapshotStore = store
	}
}

func WithDeliveryLogArchive(archive DeliveryLogArchive) Option {
	return func(b *serviceBuilder) {
		b.deliveryArchive = archive
	}
}

func WithSigningSecretProvider(provider SigningSecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithPayloadSigner(signer PayloadSigner) Option {
	return func(b *serviceBuilder) {
		b.signer = signer
	}
}

func WithDeliveryAuthorizer(authorizer DeliveryAuthorizer) Option {
	return func(b *serviceBuilder) {
		b.authorizer = authorizer
	}
}

func WithTransportAdapter(transport TransportAdapter) Option {
	return func(b *serviceBuilder) {
		b.transport = transport
	}
}

func WithInflightLedger(ledger InflightLedger) Option {
	return func(b *serviceBuilder) {
		b.inflightLedger = ledger
	}
}

func WithConditionEvaluator(evaluator ConditionEvaluator) Option {
	return func(b *serviceBuilder) {
		b.conditionEvaluator = evaluator
	}
}

func WithDeliveryQueue(queue DeliveryQueue) Option {
	return func(b *serviceBuilder) {
		b.deliveryQueue = queue
	}
}

func WithRateLimitPolicy(policy RateLimitPolicy) Option {
	return func(b *serviceBuilder) {
		b.rateLimitPolicy = policy
	}
}

func WithDeploymentStatusSink(sink DeploymentStatusSink) Option {
	return func(b *serviceBuilder) {
		b.statusSink = sink
	}
}

func WithIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.idGenerator = generator
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("gatekeeper", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		snapshotStore:   NewMemorySnapshotStore(),
		inflightLedger:  NewMemoryInflightLedger(0),
		idGenerator:     uuid.NewString,
		now:             time.Now,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return gatekeeperErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	delivery := map[string]any{}
	if includeZero || cfg.Delivery.MaxRetries != 0 {
		delivery["max_retries"] = cfg.Delivery.MaxRetries
	}
	if includeZero || cfg.Delivery.RetryDelayMS != 0 {
		delivery["retry_delay_ms"] = cfg.Delivery.RetryDelayMS
	}
	if includeZero || cfg.Delivery.BackoffMultiplier != 0 {
		delivery["backoff_multiplier"] = cfg.Delivery.BackoffMultiplier
	}
	if includeZero || cfg.Delivery.TimeoutMS != 0 {
		delivery["timeout_ms"] = cfg.Delivery.TimeoutMS
	}
	if includeZero || strings.TrimSpace(cfg.Delivery.UserAgent) != "" {
		delivery["user_agent"] = cfg.Delivery.UserAgent
	}
	if includeZero || cfg.Delivery.MaxResponseBodyBytes != 0 {
		delivery["max_response_body_bytes"] = cfg.Delivery.MaxResponseBodyBytes
	}
	if includeZero || cfg.Delivery.InflightTTLMS != 0 {
		delivery["inflight_ttl_ms"] = cfg.Delivery.InflightTTLMS
	}
	if len(delivery) > 0 {
		layer["delivery"] = delivery
	}

	webhooks := map[string]any{}
	if includeZero || cfg.Webhooks.LogRetention != 0 {
		webhooks["log_retention"] = cfg.Webhooks.LogRetention
	}
	if includeZero || strings.TrimSpace(cfg.Webhooks.SigningSecret) != "" {
		webhooks["signing_secret"] = cfg.Webhooks.SigningSecret
	}
	if includeZero || strings.TrimSpace(cfg.Webhooks.SignaturePrefix) != "" {
		webhooks["signature_prefix"] = cfg.Webhooks.SignaturePrefix
	}
	if includeZero || strings.TrimSpace(cfg.Webhooks.SignatureEncoding) != "" {
		webhooks["signature_encoding"] = cfg.Webhooks.SignatureEncoding
	}
	if len(webhooks) > 0 {
		layer["webhooks"] = webhooks
	}

	approvals := map[string]any{}
	if includeZero || cfg.Approvals.DefaultTimeoutHours != 0 {
		approvals["default_timeout_hours"] = cfg.Approvals.DefaultTimeoutHours
	}
	if len(approvals) > 0 {
		layer["approvals"] = approvals
	}
	return layer
}
