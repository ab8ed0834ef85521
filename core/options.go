package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
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
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	connectionLocker  ConnectionLocker
	registry          Registry
	connectionStore   ConnectionStore
	credentialStore   CredentialStore
	subscriptionStore SubscriptionStore
	ingestionStore    IngestionStore
	deadLetterStore   DeadLetterStore
	credentialCodec   CredentialCodec
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

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
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

func WithConnectionLocker(locker ConnectionLocker) Option {
	return func(b *serviceBuilder) {
		b.connectionLocker = locker
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithSubscriptionStore(store SubscriptionStore) Option {
	return func(b *serviceBuilder) {
		b.subscriptionStore = store
	}
}

func WithIngestionStore(store IngestionStore) Option {
	return func(b *serviceBuilder) {
		b.ingestionStore = store
	}
}

func WithDeadLetterStore(store DeadLetterStore) Option {
	return func(b *serviceBuilder) {
		b.deadLetterStore = store
	}
}

func WithCredentialCodec(codec CredentialCodec) Option {
	return func(b *serviceBuilder) {
		b.credentialCodec = codec
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("inbox", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewProviderRegistry(),
		credentialCodec: JSONCredentialCodec{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return inboxErrorMapper(err)
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

	refresh := map[string]any{}
	if includeZero || cfg.Refresh.BufferSeconds > 0 {
		refresh["buffer_seconds"] = cfg.Refresh.BufferSeconds
	}
	if includeZero || cfg.Refresh.WaitDelayMillis > 0 {
		refresh["wait_delay_millis"] = cfg.Refresh.WaitDelayMillis
	}
	if includeZero || cfg.Refresh.LockTTLSeconds > 0 {
		refresh["lock_ttl_seconds"] = cfg.Refresh.LockTTLSeconds
	}
	if includeZero || cfg.Refresh.TimeoutSeconds > 0 {
		refresh["timeout_seconds"] = cfg.Refresh.TimeoutSeconds
	}
	if len(refresh) > 0 {
		layer["refresh"] = refresh
	}

	scheduler := map[string]any{}
	if includeZero || cfg.Scheduler.MaxBatch > 0 {
		scheduler["max_batch"] = cfg.Scheduler.MaxBatch
	}
	if includeZero || cfg.Scheduler.GroupConcurrency > 0 {
		scheduler["group_concurrency"] = cfg.Scheduler.GroupConcurrency
	}
	if includeZero || cfg.Scheduler.RunBudgetSeconds > 0 {
		scheduler["run_budget_seconds"] = cfg.Scheduler.RunBudgetSeconds
	}
	if includeZero || cfg.Scheduler.RunLockTTLSecs > 0 {
		scheduler["run_lock_ttl_seconds"] = cfg.Scheduler.RunLockTTLSecs
	}
	if includeZero || cfg.Scheduler.RecomputeEvery > 0 {
		scheduler["recompute_every"] = cfg.Scheduler.RecomputeEvery
	}
	if includeZero || cfg.Scheduler.FetchLimit > 0 {
		scheduler["fetch_limit"] = cfg.Scheduler.FetchLimit
	}
	if len(scheduler) > 0 {
		layer["scheduler"] = scheduler
	}

	deadLetter := map[string]any{}
	if includeZero || cfg.DeadLetter.MaxAttempts > 0 {
		deadLetter["max_attempts"] = cfg.DeadLetter.MaxAttempts
	}
	if includeZero || cfg.DeadLetter.InitialBackoffSeconds > 0 {
		deadLetter["initial_backoff_seconds"] = cfg.DeadLetter.InitialBackoffSeconds
	}
	if includeZero || cfg.DeadLetter.MaxBackoffSeconds > 0 {
		deadLetter["max_backoff_seconds"] = cfg.DeadLetter.MaxBackoffSeconds
	}
	if len(deadLetter) > 0 {
		layer["dead_letter"] = deadLetter
	}

	quota := map[string]any{}
	if includeZero || cfg.Quota.DefaultDailyBudget > 0 {
		quota["default_daily_budget"] = cfg.Quota.DefaultDailyBudget
	}
	if includeZero || len(cfg.Quota.DailyBudgets) > 0 {
		budgets := make(map[string]int64, len(cfg.Quota.DailyBudgets))
		for provider, budget := range cfg.Quota.DailyBudgets {
			budgets[provider] = budget
		}
		quota["daily_budgets"] = budgets
	}
	if includeZero || cfg.Quota.MinimalCostUnits > 0 {
		quota["minimal_cost_units"] = cfg.Quota.MinimalCostUnits
	}
	if includeZero || cfg.Quota.RetentionDays > 0 {
		quota["retention_days"] = cfg.Quota.RetentionDays
	}
	if len(quota) > 0 {
		layer["quota"] = quota
	}

	return layer
}
