package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// RawItem is one provider-native content record as returned by a provider's
// recent-items listing, before any canonicalization.
type RawItem struct {
	ProviderItemID    string
	ProviderCreatorID string
	URL               string
	Payload           map[string]any
}

type ListRecentItemsRequest struct {
	AccessToken string
	ResourceID  string
	SinceMarker string
	Limit       int
}

type ListRecentItemsResult struct {
	Items      []RawItem
	NextMarker string
	QuotaCost  int
}

// CanonicalItemDraft is the transformed, not-yet-persisted shape of one item.
type CanonicalItemDraft struct {
	ProviderItemID  string
	URLKey          string
	Kind            ItemKind
	Title           string
	CanonicalURL    string
	PublishedAt     *time.Time
	DurationSeconds int
	MediaRef        string
	Metadata        map[string]any
}

type CreatorDraft struct {
	ProviderCreatorID string
	DisplayName       string
	AvatarURL         string
}

// Provider is the capability contract each content source implements. New
// providers are added by implementing this interface and registering it, not
// by branching on provider ids inside the core.
type Provider interface {
	ID() string
	Kind() ItemKind

	Refresh(ctx context.Context, pair TokenPair) (TokenPair, error)
	ListRecentItems(ctx context.Context, req ListRecentItemsRequest) (ListRecentItemsResult, error)
}

// CallCoster is an optional Provider extension declaring how many quota
// units one ListRecentItems call spends. The scheduler gates group admission
// with the declared cost so expensive providers do not slip past a nearly
// exhausted budget at one unit.
type CallCoster interface {
	CallCost() int64
}

// ItemTransformer turns a provider-native payload into the canonical shape.
// Providers implement it alongside Provider; the ingestion processor resolves
// it through the registry.
type ItemTransformer interface {
	TransformItem(raw RawItem) (CanonicalItemDraft, CreatorDraft, error)
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

type UpsertConnectionInput struct {
	UserID            string
	ProviderID        string
	ExternalAccountID string
	Pair              TokenPair
}

type CreateConnectionInput struct {
	UserID            string
	ProviderID        string
	ExternalAccountID string
	Status            ConnectionStatus
}

type ConnectionStore interface {
	Create(ctx context.Context, in CreateConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	FindActive(ctx context.Context, userID string, providerID string) (Connection, error)
	UpdateStatus(ctx context.Context, id string, status string, reason string) error
	TouchRefreshed(ctx context.Context, id string, at time.Time) error
}

type SaveCredentialInput struct {
	ConnectionID     string
	EncryptedPayload []byte
	KeyVersion       int
	TokenType        string
	ExpiresAt        *time.Time
	Refreshable      bool
	Status           CredentialStatus
}

type CredentialStore interface {
	SaveNewVersion(ctx context.Context, in SaveCredentialInput) (Credential, error)
	GetActiveByConnection(ctx context.Context, connectionID string) (Credential, error)
	RevokeActive(ctx context.Context, connectionID string, reason string) error
}

type CreateSubscriptionInput struct {
	ConnectionID string
	UserID       string
	ProviderID   string
	ResourceID   string
	Title        string
	ArtworkURL   string
	PollInterval time.Duration
	Metadata     map[string]any
}

type SubscriptionStore interface {
	Create(ctx context.Context, in CreateSubscriptionInput) (Subscription, error)
	Get(ctx context.Context, id string) (Subscription, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
	ListByConnection(ctx context.Context, connectionID string) ([]Subscription, error)
	MarkPolled(ctx context.Context, id string, at time.Time) error
	UpdateInterval(ctx context.Context, id string, interval time.Duration) error
	UpdateState(ctx context.Context, id string, status string, reason string) error
	Unsubscribe(ctx context.Context, id string) error
}

// IngestionCommitInput is the atomic unit of ingestion: the canonical item,
// its creator, the user's inbox row and the seen-ledger entry commit together
// or not at all.
type IngestionCommitInput struct {
	UserID         string
	SubscriptionID string
	ProviderID     string
	Item           CanonicalItemDraft
	Creator        CreatorDraft
}

type IngestionCommitResult struct {
	Item         CanonicalItem
	ItemCreated  bool
	InboxCreated bool
}

type IngestionStore interface {
	AlreadySeen(ctx context.Context, userID string, providerID string, providerItemID string) (bool, error)
	Commit(ctx context.Context, in IngestionCommitInput) (IngestionCommitResult, error)
	CountSeenSince(ctx context.Context, subscriptionID string, since time.Time) (int, error)
}

type DeadLetterStore interface {
	Enqueue(ctx context.Context, item DeadLetterItem) error
	ClaimBatch(ctx context.Context, limit int) ([]DeadLetterItem, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error
	MarkExhausted(ctx context.Context, id string, cause error) error
}

// SecretProvider is the vault contract: authenticated encryption with the
// key version recorded inside the ciphertext envelope.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	CurrentKeyVersion() int
}

// LockHandle releases a held lease. Unlock is idempotent.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes refresh work per connection. Acquire returns a
// lock-busy error (category conflict) when another holder owns the lease.
type ConnectionLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (LockHandle, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	CredentialStore() CredentialStore
	SubscriptionStore() SubscriptionStore
	IngestionStore() IngestionStore
	DeadLetterStore() DeadLetterStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// ActivityMetrics summarizes recent ingestion volume for one subscription.
type ActivityMetrics struct {
	ItemsLast7Days  int
	ItemsLast30Days int
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
