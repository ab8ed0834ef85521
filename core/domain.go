package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidConnectionStatusTransition   = errors.New("core: invalid connection status transition")
	ErrInvalidCredentialStatusTransition   = errors.New("core: invalid credential status transition")
	ErrInvalidSubscriptionStatusTransition = errors.New("core: invalid subscription status transition")
	ErrInvalidInboxStateTransition         = errors.New("core: invalid inbox state transition")
	ErrConnectionNotFound                  = errors.New("core: connection not found")
	ErrSubscriptionNotFound                = errors.New("core: subscription not found")
)

type ConnectionStatus string

const (
	ConnectionStatusActive  ConnectionStatus = "active"
	ConnectionStatusExpired ConnectionStatus = "expired"
	ConnectionStatusRevoked ConnectionStatus = "revoked"
)

// Connection holds one provider account link per (user, provider). The token
// pair itself lives in a Credential row; a Connection only tracks lifecycle.
type Connection struct {
	ID                string
	UserID            string
	ProviderID        string
	ExternalAccountID string
	Status            ConnectionStatus
	LastError         string
	LastRefreshedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c *Connection) TransitionTo(status ConnectionStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastError = strings.TrimSpace(reason)
	}
	if status == ConnectionStatusActive {
		c.LastError = ""
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusActive: {
			ConnectionStatusExpired: {},
			ConnectionStatusRevoked: {},
		},
		ConnectionStatusExpired: {
			ConnectionStatusActive:  {},
			ConnectionStatusRevoked: {},
		},
		ConnectionStatusRevoked: {
			ConnectionStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "active"
	CredentialStatusExpired CredentialStatus = "expired"
	CredentialStatusRevoked CredentialStatus = "revoked"
)

// Credential stores the vault-encrypted token pair for a connection. The
// plaintext pair is never persisted and never logged.
type Credential struct {
	ID               string
	ConnectionID     string
	Version          int
	EncryptedPayload []byte
	KeyVersion       int
	TokenType        string
	ExpiresAt        *time.Time
	Refreshable      bool
	Status           CredentialStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c *Credential) TransitionTo(status CredentialStatus, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		return nil
	}
	if !credentialTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCredentialStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	return nil
}

func credentialTransitionAllowed(current, next CredentialStatus) bool {
	allowed := map[CredentialStatus]map[CredentialStatus]struct{}{
		CredentialStatusActive: {
			CredentialStatusExpired: {},
			CredentialStatusRevoked: {},
		},
		CredentialStatusExpired: {
			CredentialStatusActive:  {},
			CredentialStatusRevoked: {},
		},
		CredentialStatusRevoked: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// TokenPair is the decrypted credential payload handed to provider calls.
type TokenPair struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Refreshable reports whether the pair carries a refresh token.
func (p TokenPair) Refreshable() bool {
	return strings.TrimSpace(p.RefreshToken) != ""
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive       SubscriptionStatus = "active"
	SubscriptionStatusPaused       SubscriptionStatus = "paused"
	SubscriptionStatusDisconnected SubscriptionStatus = "disconnected"
	SubscriptionStatusUnsubscribed SubscriptionStatus = "unsubscribed"
)

// Subscription is a user's subscribed entity within a provider: a channel, a
// show, a newsletter feed. The scheduler owns LastPolledAt and PassCount; the
// interval adapter owns PollInterval.
type Subscription struct {
	ID           string
	ConnectionID string
	UserID       string
	ProviderID   string
	ResourceID   string
	Title        string
	ArtworkURL   string
	LastPolledAt *time.Time
	PollInterval time.Duration
	PassCount    int
	Status       SubscriptionStatus
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Subscription) TransitionTo(status SubscriptionStatus, now time.Time) error {
	if s == nil {
		return nil
	}
	if s.Status == status {
		s.UpdatedAt = now
		return nil
	}
	if !subscriptionTransitionAllowed(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSubscriptionStatusTransition, s.Status, status)
	}
	s.Status = status
	s.UpdatedAt = now
	return nil
}

func subscriptionTransitionAllowed(current, next SubscriptionStatus) bool {
	allowed := map[SubscriptionStatus]map[SubscriptionStatus]struct{}{
		SubscriptionStatusActive: {
			SubscriptionStatusPaused:       {},
			SubscriptionStatusDisconnected: {},
			SubscriptionStatusUnsubscribed: {},
		},
		SubscriptionStatusPaused: {
			SubscriptionStatusActive:       {},
			SubscriptionStatusUnsubscribed: {},
		},
		SubscriptionStatusDisconnected: {
			SubscriptionStatusActive:       {},
			SubscriptionStatusUnsubscribed: {},
		},
		SubscriptionStatusUnsubscribed: {},
	}
	_, ok := allowed[current][next]
	return ok
}

type ItemKind string

const (
	ItemKindVideo   ItemKind = "video"
	ItemKindEpisode ItemKind = "episode"
	ItemKindIssue   ItemKind = "issue"
)

// Creator is the provider-scoped author entity a canonical item links to.
type Creator struct {
	ID                string
	ProviderID        string
	ProviderCreatorID string
	DisplayName       string
	AvatarURL         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanonicalItem is the single deduplicated content record for one piece of
// external content, shared read-only across every user who sees it. Identity
// is (provider, provider_item_id); URLKey is the normalized-URL fallback for
// providers without stable item ids.
type CanonicalItem struct {
	ID              string
	ProviderID      string
	ProviderItemID  string
	URLKey          string
	Kind            ItemKind
	Title           string
	CanonicalURL    string
	CreatorID       string
	PublishedAt     *time.Time
	DurationSeconds int
	MediaRef        string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type InboxState string

const (
	InboxStateInbox    InboxState = "inbox"
	InboxStateSaved    InboxState = "saved"
	InboxStateArchived InboxState = "archived"
)

// UserInboxItem links one user to one canonical item. Exactly one row exists
// per (user, item); ingestion creates it in the inbox state and the UI layer
// owns transitions from there.
type UserInboxItem struct {
	ID        string
	UserID    string
	ItemID    string
	State     InboxState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SeenEntry is one row of the append-only idempotency ledger. Existence of a
// row for (user, provider, provider_item_id) is the sole gate deciding whether
// an incoming raw item has already been processed.
type SeenEntry struct {
	UserID         string
	ProviderID     string
	ProviderItemID string
	SubscriptionID string
	CreatedAt      time.Time
}

type DeadLetterStatus string

const (
	DeadLetterStatusPending   DeadLetterStatus = "pending"
	DeadLetterStatusRetried   DeadLetterStatus = "retried"
	DeadLetterStatusExhausted DeadLetterStatus = "exhausted"
)

// DeadLetterItem preserves a raw item that failed ingestion, with enough
// context to retry it on a later pass or inspect it offline.
type DeadLetterItem struct {
	ID             string
	ProviderID     string
	SubscriptionID string
	UserID         string
	ProviderItemID string
	Payload        map[string]any
	Reason         string
	Attempts       int
	NextAttemptAt  *time.Time
	Status         DeadLetterStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// QuotaUsage is the per-provider, per-UTC-day consumed unit counter.
type QuotaUsage struct {
	ProviderID string
	Day        string
	Used       int64
	UpdatedAt  time.Time
}
