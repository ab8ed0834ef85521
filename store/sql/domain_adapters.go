package sqlstore

import (
	"time"

	"github.com/inletapp/go-inbox/core"
)

func newConnectionRecord(in core.CreateConnectionInput, now time.Time) *connectionRecord {
	return &connectionRecord{
		UserID:            in.UserID,
		ProviderID:        in.ProviderID,
		ExternalAccountID: in.ExternalAccountID,
		Status:            string(in.Status),
		LastError:         "",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	connection := core.Connection{
		ID:                r.ID,
		UserID:            r.UserID,
		ProviderID:        r.ProviderID,
		ExternalAccountID: r.ExternalAccountID,
		Status:            core.ConnectionStatus(r.Status),
		LastError:         r.LastError,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.LastRefreshedAt != nil {
		value := r.LastRefreshedAt.UTC()
		connection.LastRefreshedAt = &value
	}
	return connection
}

func newCredentialRecord(in core.SaveCredentialInput, version int, now time.Time) *credentialRecord {
	record := &credentialRecord{
		ConnectionID:     in.ConnectionID,
		Version:          version,
		EncryptedPayload: append([]byte(nil), in.EncryptedPayload...),
		KeyVersion:       in.KeyVersion,
		TokenType:        in.TokenType,
		Refreshable:      in.Refreshable,
		Status:           string(in.Status),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.ExpiresAt != nil {
		expiresAt := in.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	return record
}

func (r *credentialRecord) toDomain() core.Credential {
	if r == nil {
		return core.Credential{}
	}
	credential := core.Credential{
		ID:               r.ID,
		ConnectionID:     r.ConnectionID,
		Version:          r.Version,
		EncryptedPayload: append([]byte(nil), r.EncryptedPayload...),
		KeyVersion:       r.KeyVersion,
		TokenType:        r.TokenType,
		Refreshable:      r.Refreshable,
		Status:           core.CredentialStatus(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.ExpiresAt != nil {
		expiresAt := r.ExpiresAt.UTC()
		credential.ExpiresAt = &expiresAt
	}
	return credential
}

func newSubscriptionRecord(in core.CreateSubscriptionInput, now time.Time) *subscriptionRecord {
	interval := in.PollInterval
	if interval <= 0 {
		interval = core.IntervalTierActive
	}
	return &subscriptionRecord{
		ConnectionID:        in.ConnectionID,
		UserID:              in.UserID,
		ProviderID:          in.ProviderID,
		ResourceID:          in.ResourceID,
		Title:               in.Title,
		ArtworkURL:          in.ArtworkURL,
		PollIntervalSeconds: int64(interval / time.Second),
		Status:              string(core.SubscriptionStatusActive),
		Metadata:            copyAnyMap(in.Metadata),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (r *subscriptionRecord) toDomain() core.Subscription {
	if r == nil {
		return core.Subscription{}
	}
	subscription := core.Subscription{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		UserID:       r.UserID,
		ProviderID:   r.ProviderID,
		ResourceID:   r.ResourceID,
		Title:        r.Title,
		ArtworkURL:   r.ArtworkURL,
		PollInterval: time.Duration(r.PollIntervalSeconds) * time.Second,
		PassCount:    r.PassCount,
		Status:       core.SubscriptionStatus(r.Status),
		Metadata:     copyAnyMap(r.Metadata),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastPolledAt != nil {
		value := r.LastPolledAt.UTC()
		subscription.LastPolledAt = &value
	}
	return subscription
}

func (r *creatorRecord) toDomain() core.Creator {
	if r == nil {
		return core.Creator{}
	}
	return core.Creator{
		ID:                r.ID,
		ProviderID:        r.ProviderID,
		ProviderCreatorID: r.ProviderCreatorID,
		DisplayName:       r.DisplayName,
		AvatarURL:         r.AvatarURL,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (r *itemRecord) toDomain() core.CanonicalItem {
	if r == nil {
		return core.CanonicalItem{}
	}
	item := core.CanonicalItem{
		ID:              r.ID,
		ProviderID:      r.ProviderID,
		ProviderItemID:  r.ProviderItemID,
		URLKey:          r.URLKey,
		Kind:            core.ItemKind(r.Kind),
		Title:           r.Title,
		CanonicalURL:    r.CanonicalURL,
		CreatorID:       r.CreatorID,
		DurationSeconds: r.DurationSeconds,
		MediaRef:        r.MediaRef,
		Metadata:        copyAnyMap(r.Metadata),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.PublishedAt != nil {
		value := r.PublishedAt.UTC()
		item.PublishedAt = &value
	}
	return item
}

func newDeadLetterRecord(item core.DeadLetterItem, now time.Time) *deadLetterRecord {
	record := &deadLetterRecord{
		ID:             item.ID,
		ProviderID:     item.ProviderID,
		SubscriptionID: item.SubscriptionID,
		UserID:         item.UserID,
		ProviderItemID: item.ProviderItemID,
		Payload:        copyAnyMap(item.Payload),
		Reason:         item.Reason,
		Attempts:       item.Attempts,
		Status:         string(item.Status),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if item.NextAttemptAt != nil {
		value := item.NextAttemptAt.UTC()
		record.NextAttemptAt = &value
	}
	return record
}

func (r *deadLetterRecord) toDomain() core.DeadLetterItem {
	if r == nil {
		return core.DeadLetterItem{}
	}
	item := core.DeadLetterItem{
		ID:             r.ID,
		ProviderID:     r.ProviderID,
		SubscriptionID: r.SubscriptionID,
		UserID:         r.UserID,
		ProviderItemID: r.ProviderItemID,
		Payload:        copyAnyMap(r.Payload),
		Reason:         r.Reason,
		Attempts:       r.Attempts,
		Status:         core.DeadLetterStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.NextAttemptAt != nil {
		value := r.NextAttemptAt.UTC()
		item.NextAttemptAt = &value
	}
	return item
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
