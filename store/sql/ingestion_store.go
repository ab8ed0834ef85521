package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/inletapp/go-inbox/core"
)

// IngestionStore commits canonical items, inbox placements, and seen-ledger
// entries in one transaction per item. The canonical item table is shared
// across users; the seen ledger and inbox placements are per user.
type IngestionStore struct {
	db *bun.DB
}

func NewIngestionStore(db *bun.DB) (*IngestionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &IngestionStore{db: db}, nil
}

func (s *IngestionStore) AlreadySeen(ctx context.Context, userID string, providerID string, providerItemID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: ingestion store is not configured")
	}
	count, err := s.db.NewSelect().
		Model((*seenEntryRecord)(nil)).
		Where("?TableAlias.user_id = ?", strings.TrimSpace(userID)).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.provider_item_id = ?", strings.TrimSpace(providerItemID)).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *IngestionStore) Commit(ctx context.Context, in core.IngestionCommitInput) (core.IngestionCommitResult, error) {
	if s == nil || s.db == nil {
		return core.IngestionCommitResult{}, fmt.Errorf("sqlstore: ingestion store is not configured")
	}
	userID := strings.TrimSpace(in.UserID)
	providerID := strings.TrimSpace(in.ProviderID)
	if userID == "" || providerID == "" {
		return core.IngestionCommitResult{}, fmt.Errorf("sqlstore: user id and provider id are required")
	}
	seenKey, err := seenLedgerKey(in.Item)
	if err != nil {
		return core.IngestionCommitResult{}, err
	}

	var result core.IngestionCommitResult
	err = s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()

		creatorID, err := resolveCreator(ctx, tx, providerID, in.Creator, now)
		if err != nil {
			return fmt.Errorf("resolve creator: %w", err)
		}

		item, itemCreated, err := resolveItem(ctx, tx, providerID, in.Item, creatorID, now)
		if err != nil {
			return fmt.Errorf("resolve item: %w", err)
		}

		inboxCreated, err := placeInInbox(ctx, tx, userID, item.ID, now)
		if err != nil {
			return fmt.Errorf("place in inbox: %w", err)
		}

		entry := &seenEntryRecord{
			ID:             uuid.New().String(),
			UserID:         userID,
			ProviderID:     providerID,
			ProviderItemID: seenKey,
			SubscriptionID: strings.TrimSpace(in.SubscriptionID),
			CreatedAt:      now,
		}
		if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil && !isUniqueConstraintError(err) {
			return fmt.Errorf("record seen entry: %w", err)
		}

		result = core.IngestionCommitResult{
			Item:         item.toDomain(),
			ItemCreated:  itemCreated,
			InboxCreated: inboxCreated,
		}
		return nil
	})
	if err != nil {
		return core.IngestionCommitResult{}, err
	}
	return result, nil
}

func (s *IngestionStore) CountSeenSince(ctx context.Context, subscriptionID string, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: ingestion store is not configured")
	}
	return s.db.NewSelect().
		Model((*seenEntryRecord)(nil)).
		Where("?TableAlias.subscription_id = ?", strings.TrimSpace(subscriptionID)).
		Where("?TableAlias.created_at >= ?", since.UTC()).
		Count(ctx)
}

// seenLedgerKey mirrors the identity the processor dedupes on: the provider's
// item id when it has one, the normalized URL otherwise.
func seenLedgerKey(item core.CanonicalItemDraft) (string, error) {
	if id := strings.TrimSpace(item.ProviderItemID); id != "" {
		return id, nil
	}
	if key := strings.TrimSpace(item.URLKey); key != "" {
		return "url:" + key, nil
	}
	return "", fmt.Errorf("sqlstore: item has neither provider item id nor url key")
}

func resolveCreator(ctx context.Context, tx bun.Tx, providerID string, draft core.CreatorDraft, now time.Time) (string, error) {
	creatorID := strings.TrimSpace(draft.ProviderCreatorID)
	if creatorID == "" {
		return "", nil
	}

	existing := new(creatorRecord)
	err := tx.NewSelect().
		Model(existing).
		Where("?TableAlias.provider_id = ?", providerID).
		Where("?TableAlias.provider_creator_id = ?", creatorID).
		Limit(1).
		Scan(ctx)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	record := &creatorRecord{
		ID:                uuid.New().String(),
		ProviderID:        providerID,
		ProviderCreatorID: creatorID,
		DisplayName:       strings.TrimSpace(draft.DisplayName),
		AvatarURL:         strings.TrimSpace(draft.AvatarURL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueConstraintError(err) {
			return "", err
		}
		// concurrent insert won the race, read theirs
		err = tx.NewSelect().
			Model(existing).
			Where("?TableAlias.provider_id = ?", providerID).
			Where("?TableAlias.provider_creator_id = ?", creatorID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return "", err
		}
		return existing.ID, nil
	}
	return record.ID, nil
}

func resolveItem(ctx context.Context, tx bun.Tx, providerID string, draft core.CanonicalItemDraft, creatorID string, now time.Time) (*itemRecord, bool, error) {
	providerItemID := strings.TrimSpace(draft.ProviderItemID)
	urlKey := strings.TrimSpace(draft.URLKey)

	existing := new(itemRecord)
	query := tx.NewSelect().
		Model(existing).
		Where("?TableAlias.provider_id = ?", providerID)
	if providerItemID != "" {
		query = query.Where("?TableAlias.provider_item_id = ?", providerItemID)
	} else {
		query = query.Where("?TableAlias.url_key = ?", urlKey)
	}
	err := query.Limit(1).Scan(ctx)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	record := &itemRecord{
		ID:              uuid.New().String(),
		ProviderID:      providerID,
		ProviderItemID:  providerItemID,
		URLKey:          urlKey,
		Kind:            string(draft.Kind),
		Title:           draft.Title,
		CanonicalURL:    draft.CanonicalURL,
		CreatorID:       creatorID,
		PublishedAt:     draft.PublishedAt,
		DurationSeconds: draft.DurationSeconds,
		MediaRef:        draft.MediaRef,
		Metadata:        copyAnyMap(draft.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueConstraintError(err) {
			return nil, false, err
		}
		err = query.Limit(1).Scan(ctx)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return record, true, nil
}

func placeInInbox(ctx context.Context, tx bun.Tx, userID string, itemID string, now time.Time) (bool, error) {
	count, err := tx.NewSelect().
		Model((*userItemRecord)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.item_id = ?", itemID).
		Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	record := &userItemRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		ItemID:    itemID,
		State:     string(core.InboxStateInbox),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "23505")
}

var _ core.IngestionStore = (*IngestionStore)(nil)
