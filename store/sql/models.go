package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:inbox_connections,alias:ic"`

	ID                string     `bun:"id,pk"`
	UserID            string     `bun:"user_id,notnull"`
	ProviderID        string     `bun:"provider_id,notnull"`
	ExternalAccountID string     `bun:"external_account_id,notnull"`
	Status            string     `bun:"status,notnull"`
	LastError         string     `bun:"last_error"`
	LastRefreshedAt   *time.Time `bun:"last_refreshed_at,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt         *time.Time `bun:"deleted_at,soft_delete"`
}

type credentialRecord struct {
	bun.BaseModel `bun:"table:inbox_credentials,alias:icr"`

	ID               string     `bun:"id,pk"`
	ConnectionID     string     `bun:"connection_id,notnull"`
	Version          int        `bun:"version,notnull"`
	EncryptedPayload []byte     `bun:"encrypted_payload,notnull"`
	KeyVersion       int        `bun:"key_version,notnull"`
	TokenType        string     `bun:"token_type,notnull"`
	ExpiresAt        *time.Time `bun:"expires_at,nullzero"`
	Refreshable      bool       `bun:"refreshable,notnull"`
	Status           string     `bun:"status,notnull"`
	RevocationReason string     `bun:"revocation_reason"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:inbox_subscriptions,alias:isb"`

	ID                  string         `bun:"id,pk"`
	ConnectionID        string         `bun:"connection_id,notnull"`
	UserID              string         `bun:"user_id,notnull"`
	ProviderID          string         `bun:"provider_id,notnull"`
	ResourceID          string         `bun:"resource_id,notnull"`
	Title               string         `bun:"title"`
	ArtworkURL          string         `bun:"artwork_url"`
	LastPolledAt        *time.Time     `bun:"last_polled_at,nullzero"`
	NextPollAt          *time.Time     `bun:"next_poll_at,nullzero"`
	PollIntervalSeconds int64          `bun:"poll_interval_seconds,notnull"`
	PassCount           int            `bun:"pass_count,notnull"`
	Status              string         `bun:"status,notnull"`
	StateReason         string         `bun:"state_reason"`
	Metadata            map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt           time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt           *time.Time     `bun:"deleted_at,soft_delete"`
}

type creatorRecord struct {
	bun.BaseModel `bun:"table:inbox_creators,alias:icrt"`

	ID                string    `bun:"id,pk"`
	ProviderID        string    `bun:"provider_id,notnull"`
	ProviderCreatorID string    `bun:"provider_creator_id,notnull"`
	DisplayName       string    `bun:"display_name"`
	AvatarURL         string    `bun:"avatar_url"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type itemRecord struct {
	bun.BaseModel `bun:"table:inbox_items,alias:ii"`

	ID              string         `bun:"id,pk"`
	ProviderID      string         `bun:"provider_id,notnull"`
	ProviderItemID  string         `bun:"provider_item_id"`
	URLKey          string         `bun:"url_key"`
	Kind            string         `bun:"kind,notnull"`
	Title           string         `bun:"title,notnull"`
	CanonicalURL    string         `bun:"canonical_url"`
	CreatorID       string         `bun:"creator_id"`
	PublishedAt     *time.Time     `bun:"published_at,nullzero"`
	DurationSeconds int            `bun:"duration_seconds,notnull"`
	MediaRef        string         `bun:"media_ref"`
	Metadata        map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type userItemRecord struct {
	bun.BaseModel `bun:"table:inbox_user_items,alias:iui"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	ItemID    string    `bun:"item_id,notnull"`
	State     string    `bun:"state,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type seenEntryRecord struct {
	bun.BaseModel `bun:"table:inbox_seen_entries,alias:ise"`

	ID             string    `bun:"id,pk"`
	UserID         string    `bun:"user_id,notnull"`
	ProviderID     string    `bun:"provider_id,notnull"`
	ProviderItemID string    `bun:"provider_item_id,notnull"`
	SubscriptionID string    `bun:"subscription_id"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type quotaUsageRecord struct {
	bun.BaseModel `bun:"table:inbox_quota_usage,alias:iqu"`

	ProviderID string    `bun:"provider_id,pk"`
	Day        string    `bun:"day,pk"`
	Used       int64     `bun:"used,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRecord struct {
	bun.BaseModel `bun:"table:inbox_dead_letters,alias:idl"`

	ID             string         `bun:"id,pk"`
	ProviderID     string         `bun:"provider_id,notnull"`
	SubscriptionID string         `bun:"subscription_id"`
	UserID         string         `bun:"user_id,notnull"`
	ProviderItemID string         `bun:"provider_item_id"`
	Payload        map[string]any `bun:"payload,type:jsonb,notnull"`
	Reason         string         `bun:"reason"`
	Attempts       int            `bun:"attempts,notnull"`
	NextAttemptAt  *time.Time     `bun:"next_attempt_at,nullzero"`
	Status         string         `bun:"status,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type lockLeaseRecord struct {
	bun.BaseModel `bun:"table:inbox_lock_leases,alias:ill"`

	Name      string    `bun:"name,pk"`
	Token     string    `bun:"token,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
