package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the outer surface consumed by the connect/disconnect flow and
// the subscription management layer. Scheduling and ingestion run against
// the same stores through their own components.
type Service struct {
	config             Config
	logger             Logger
	loggerProvider     LoggerProvider
	metricsRecorder    MetricsRecorder
	errorFactory       ErrorFactory
	errorMapper        ErrorMapper
	persistenceClient  any
	repositoryFactory  any
	configProvider     ConfigProvider
	optionsResolver    OptionsResolver
	secretProvider     SecretProvider
	connectionLocker   ConnectionLocker
	registry           Registry
	connectionStore    ConnectionStore
	credentialStore    CredentialStore
	subscriptionStore  SubscriptionStore
	ingestionStore     IngestionStore
	deadLetterStore    DeadLetterStore
	credentialCodec    CredentialCodec
	refreshCoordinator *RefreshCoordinator
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	SecretProvider    SecretProvider
	ConnectionLocker  ConnectionLocker
	Registry          Registry
	ConnectionStore   ConnectionStore
	CredentialStore   CredentialStore
	SubscriptionStore SubscriptionStore
	IngestionStore    IngestionStore
	DeadLetterStore   DeadLetterStore
	CredentialCodec   CredentialCodec
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("inbox", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("inbox"); named != nil {
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
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.connectionLocker == nil {
		builder.connectionLocker = NewMemoryConnectionLocker()
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
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

	if builder.repositoryFactory != nil {
		var storeProvider StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			storeProvider = built
		} else if provided, ok := builder.repositoryFactory.(StoreProvider); ok {
			storeProvider = provided
		}
		if storeProvider != nil {
			if builder.connectionStore == nil {
				builder.connectionStore = storeProvider.ConnectionStore()
			}
			if builder.credentialStore == nil {
				builder.credentialStore = storeProvider.CredentialStore()
			}
			if builder.subscriptionStore == nil {
				builder.subscriptionStore = storeProvider.SubscriptionStore()
			}
			if builder.ingestionStore == nil {
				builder.ingestionStore = storeProvider.IngestionStore()
			}
			if builder.deadLetterStore == nil {
				builder.deadLetterStore = storeProvider.DeadLetterStore()
			}
		}
	}

	service := &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		secretProvider:    builder.secretProvider,
		connectionLocker:  builder.connectionLocker,
		registry:          builder.registry,
		connectionStore:   builder.connectionStore,
		credentialStore:   builder.credentialStore,
		subscriptionStore: builder.subscriptionStore,
		ingestionStore:    builder.ingestionStore,
		deadLetterStore:   builder.deadLetterStore,
		credentialCodec:   builder.credentialCodec,
	}

	if service.secretProvider != nil && service.connectionStore != nil && service.credentialStore != nil {
		coordinator, coordErr := NewRefreshCoordinator(RefreshCoordinatorDeps{
			Config:      finalConfig.Refresh,
			Connections: service.connectionStore,
			Credentials: service.credentialStore,
			Registry:    service.registry,
			Secrets:     service.secretProvider,
			Codec:       service.credentialCodec,
			Locker:      service.connectionLocker,
			Logger:      logger,
		})
		if coordErr != nil {
			return nil, mapBuildError(builder.errorMapper, coordErr)
		}
		service.refreshCoordinator = coordinator
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

func (s *Service) RefreshCoordinator() *RefreshCoordinator {
	if s == nil {
		return nil
	}
	return s.refreshCoordinator
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		SecretProvider:    s.secretProvider,
		ConnectionLocker:  s.connectionLocker,
		Registry:          s.registry,
		ConnectionStore:   s.connectionStore,
		CredentialStore:   s.credentialStore,
		SubscriptionStore: s.subscriptionStore,
		IngestionStore:    s.ingestionStore,
		DeadLetterStore:   s.deadLetterStore,
		CredentialCodec:   s.credentialCodec,
	}
}

// UpsertConnection records a successful authorization: it reuses the active
// connection for (user, provider) when one exists, otherwise creates one,
// and always stores the token pair as a new encrypted credential version.
func (s *Service) UpsertConnection(ctx context.Context, req UpsertConnectionInput) (connection Connection, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "upsert_connection", err, fields)
	}()

	if s == nil || s.connectionStore == nil || s.credentialStore == nil {
		return Connection{}, fmt.Errorf("core: connection and credential stores are required")
	}
	if s.secretProvider == nil {
		return Connection{}, fmt.Errorf("core: secret provider is required")
	}
	userID := strings.TrimSpace(req.UserID)
	providerID := strings.TrimSpace(req.ProviderID)
	if userID == "" || providerID == "" {
		err = s.mapError(fmt.Errorf("core: user id and provider id are required"))
		return Connection{}, err
	}
	if _, ok := s.registry.Get(providerID); !ok {
		err = s.providerNotFoundError(providerID)
		return Connection{}, err
	}
	if strings.TrimSpace(req.Pair.AccessToken) == "" {
		err = s.mapError(fmt.Errorf("core: access token is required"))
		return Connection{}, err
	}

	connection, err = s.connectionStore.FindActive(ctx, userID, providerID)
	if err != nil {
		if !errors.Is(err, ErrConnectionNotFound) {
			err = s.mapError(err)
			return Connection{}, err
		}
		connection, err = s.connectionStore.Create(ctx, CreateConnectionInput{
			UserID:            userID,
			ProviderID:        providerID,
			ExternalAccountID: strings.TrimSpace(req.ExternalAccountID),
			Status:            ConnectionStatusActive,
		})
		if err != nil {
			err = s.mapError(err)
			return Connection{}, err
		}
	}
	fields["connection_id"] = connection.ID

	encoded, err := s.credentialCodec.Encode(req.Pair)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	sealed, err := s.secretProvider.Encrypt(ctx, encoded)
	if err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}
	if _, err = s.credentialStore.SaveNewVersion(ctx, SaveCredentialInput{
		ConnectionID:     connection.ID,
		EncryptedPayload: sealed,
		KeyVersion:       s.secretProvider.CurrentKeyVersion(),
		TokenType:        req.Pair.TokenType,
		ExpiresAt:        cloneTimePointer(req.Pair.ExpiresAt),
		Refreshable:      req.Pair.Refreshable(),
	}); err != nil {
		err = s.mapError(err)
		return Connection{}, err
	}

	if connection.Status != ConnectionStatusActive {
		if err = s.connectionStore.UpdateStatus(ctx, connection.ID, string(ConnectionStatusActive), "reauthorized"); err != nil {
			err = s.mapError(err)
			return Connection{}, err
		}
		connection.Status = ConnectionStatusActive
	}

	return connection, nil
}

// RevokeConnection handles a user-initiated disconnect: the credential is
// revoked, the connection is marked revoked and every subscription on it is
// disconnected so the scheduler stops selecting them.
func (s *Service) RevokeConnection(ctx context.Context, userID string, providerID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": providerID,
		"user_id":     userID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke_connection", err, fields)
	}()

	if s == nil || s.connectionStore == nil || s.credentialStore == nil {
		return fmt.Errorf("core: connection and credential stores are required")
	}
	userID = strings.TrimSpace(userID)
	providerID = strings.TrimSpace(providerID)
	if userID == "" || providerID == "" {
		err = s.mapError(fmt.Errorf("core: user id and provider id are required"))
		return err
	}

	connection, err := s.connectionStore.FindActive(ctx, userID, providerID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["connection_id"] = connection.ID

	if err = s.credentialStore.RevokeActive(ctx, connection.ID, "user disconnect"); err != nil {
		err = s.mapError(err)
		return err
	}
	if err = s.connectionStore.UpdateStatus(ctx, connection.ID, string(ConnectionStatusRevoked), "user disconnect"); err != nil {
		err = s.mapError(err)
		return err
	}

	if s.subscriptionStore != nil {
		subscriptions, listErr := s.subscriptionStore.ListByConnection(ctx, connection.ID)
		if listErr != nil {
			err = s.mapError(listErr)
			return err
		}
		for _, subscription := range subscriptions {
			if subscription.Status == SubscriptionStatusUnsubscribed {
				continue
			}
			if stateErr := s.subscriptionStore.UpdateState(ctx, subscription.ID, string(SubscriptionStatusDisconnected), "connection revoked"); stateErr != nil {
				s.logError(ctx, "failed to disconnect subscription", map[string]any{
					"subscription_id": subscription.ID,
					"error":           stateErr.Error(),
				})
			}
		}
	}

	return nil
}

type SubscribeRequest struct {
	UserID     string
	ProviderID string
	ResourceID string
	Title      string
	ArtworkURL string
	Metadata   map[string]any
}

// Subscribe creates a subscription for the user's active connection on the
// provider. New subscriptions start on the active polling tier; the interval
// adapter retunes them once activity data accumulates.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (subscription Subscription, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
		"resource_id": req.ResourceID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "subscribe", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil || s.connectionStore == nil {
		return Subscription{}, fmt.Errorf("core: subscription and connection stores are required")
	}
	userID := strings.TrimSpace(req.UserID)
	providerID := strings.TrimSpace(req.ProviderID)
	resourceID := strings.TrimSpace(req.ResourceID)
	if userID == "" || providerID == "" || resourceID == "" {
		err = s.mapError(fmt.Errorf("core: user id, provider id and resource id are required"))
		return Subscription{}, err
	}
	if _, ok := s.registry.Get(providerID); !ok {
		err = s.providerNotFoundError(providerID)
		return Subscription{}, err
	}

	connection, err := s.connectionStore.FindActive(ctx, userID, providerID)
	if err != nil {
		err = s.mapError(err)
		return Subscription{}, err
	}
	fields["connection_id"] = connection.ID

	subscription, err = s.subscriptionStore.Create(ctx, CreateSubscriptionInput{
		ConnectionID: connection.ID,
		UserID:       userID,
		ProviderID:   providerID,
		ResourceID:   resourceID,
		Title:        strings.TrimSpace(req.Title),
		ArtworkURL:   strings.TrimSpace(req.ArtworkURL),
		PollInterval: IntervalTierActive,
		Metadata:     copyAnyMap(req.Metadata),
	})
	if err != nil {
		err = s.mapError(err)
		return Subscription{}, err
	}
	fields["subscription_id"] = subscription.ID

	return subscription, nil
}

// Unsubscribe soft-deletes the subscription. Canonical items it produced
// stay shared with other subscribers.
func (s *Service) Unsubscribe(ctx context.Context, subscriptionID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"subscription_id": subscriptionID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "unsubscribe", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil {
		return fmt.Errorf("core: subscription store is required")
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		err = s.mapError(fmt.Errorf("core: subscription id is required"))
		return err
	}

	if err = s.subscriptionStore.Unsubscribe(ctx, subscriptionID); err != nil {
		err = s.mapError(err)
		return err
	}
	return nil
}

func (s *Service) providerNotFoundError(providerID string) error {
	wrapped := s.errorFactory(
		fmt.Sprintf("provider %q is not registered", providerID),
		goerrors.CategoryNotFound,
	).WithTextCode(InboxErrorProviderNotFound)
	return wrapped.WithMetadata(map[string]any{"provider_id": providerID})
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
