package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/inletapp/go-inbox/core"
)

// Claimed letters are parked in an intermediate status so a crashed retry
// pass does not hand the same rows to the next one.
const deadLetterStatusClaimed = "claimed"

type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

func (s *DeadLetterStore) Enqueue(ctx context.Context, item core.DeadLetterItem) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if strings.TrimSpace(item.ProviderID) == "" {
		return fmt.Errorf("sqlstore: dead letter provider id is required")
	}
	if strings.TrimSpace(item.UserID) == "" {
		return fmt.Errorf("sqlstore: dead letter user id is required")
	}

	record := newDeadLetterRecord(item, time.Now().UTC())
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if strings.TrimSpace(record.Status) == "" {
		record.Status = string(core.DeadLetterStatusPending)
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *DeadLetterStore) ClaimBatch(ctx context.Context, limit int) ([]core.DeadLetterItem, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	var records []deadLetterRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM inbox_dead_letters
	WHERE status = ?
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	ORDER BY created_at ASC
	LIMIT ?
)
UPDATE inbox_dead_letters
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	provider_id,
	subscription_id,
	user_id,
	provider_item_id,
	payload,
	reason,
	attempts,
	next_attempt_at,
	status,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			string(core.DeadLetterStatusPending),
			now,
			limit,
			deadLetterStatusClaimed,
			now,
			string(core.DeadLetterStatusPending),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	items := make([]core.DeadLetterItem, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return items, nil
}

func (s *DeadLetterStore) Ack(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dead letter id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*deadLetterRecord)(nil)).
		Set("status = ?", string(core.DeadLetterStatusRetried)).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (s *DeadLetterStore) Retry(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dead letter id is required")
	}
	reason := ""
	if cause != nil {
		reason = strings.TrimSpace(cause.Error())
	}
	var next *time.Time
	if !nextAttemptAt.IsZero() {
		nextValue := nextAttemptAt.UTC()
		next = &nextValue
	}
	_, err := s.db.NewUpdate().
		Model((*deadLetterRecord)(nil)).
		Set("status = ?", string(core.DeadLetterStatusPending)).
		Set("attempts = attempts + 1").
		Set("next_attempt_at = ?", next).
		Set("reason = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (s *DeadLetterStore) MarkExhausted(ctx context.Context, id string, cause error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dead letter id is required")
	}
	reason := ""
	if cause != nil {
		reason = strings.TrimSpace(cause.Error())
	}
	_, err := s.db.NewUpdate().
		Model((*deadLetterRecord)(nil)).
		Set("status = ?", string(core.DeadLetterStatusExhausted)).
		Set("attempts = attempts + 1").
		Set("next_attempt_at = NULL").
		Set("reason = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

var _ core.DeadLetterStore = (*DeadLetterStore)(nil)
