package inbox

import "github.com/inletapp/go-inbox/core"

type Config = core.Config

type RefreshConfig = core.RefreshConfig
type SchedulerConfig = core.SchedulerConfig
type DeadLetterConfig = core.DeadLetterConfig
type QuotaConfig = core.QuotaConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type SecretProvider = core.SecretProvider
type ConnectionLocker = core.ConnectionLocker
type Registry = core.Registry
type Provider = core.Provider
type ConnectionStore = core.ConnectionStore
type CredentialStore = core.CredentialStore
type SubscriptionStore = core.SubscriptionStore
type IngestionStore = core.IngestionStore
type DeadLetterStore = core.DeadLetterStore
type CredentialCodec = core.CredentialCodec

type UpsertConnectionInput = core.UpsertConnectionInput

type SubscribeRequest = core.SubscribeRequest

type TokenPair = core.TokenPair

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithSecretProvider    = core.WithSecretProvider
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithConnectionLocker  = core.WithConnectionLocker
	WithRegistry          = core.WithRegistry
	WithConnectionStore   = core.WithConnectionStore
	WithCredentialStore   = core.WithCredentialStore
	WithSubscriptionStore = core.WithSubscriptionStore
	WithIngestionStore    = core.WithIngestionStore
	WithDeadLetterStore   = core.WithDeadLetterStore
	WithCredentialCodec   = core.WithCredentialCodec
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
