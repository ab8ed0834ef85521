package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/inletapp/go-inbox/quota"
)

// QuotaCounterStore keeps one row per provider per UTC day. The increment is
// a single upsert so concurrent pollers never lose updates.
type QuotaCounterStore struct {
	db *bun.DB
}

func NewQuotaCounterStore(db *bun.DB) (*QuotaCounterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &QuotaCounterStore{db: db}, nil
}

func (s *QuotaCounterStore) IncrementAndGet(ctx context.Context, providerID string, day string, units int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: quota counter store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	day = strings.TrimSpace(day)
	if providerID == "" || day == "" {
		return 0, fmt.Errorf("sqlstore: provider id and day are required")
	}

	var used int64
	query := `
INSERT INTO inbox_quota_usage (provider_id, day, used, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (provider_id, day)
DO UPDATE SET used = inbox_quota_usage.used + excluded.used, updated_at = excluded.updated_at
RETURNING used
`
	err := s.db.NewRaw(query, providerID, day, units, time.Now().UTC()).Scan(ctx, &used)
	if err != nil {
		return 0, err
	}
	return used, nil
}

func (s *QuotaCounterStore) Get(ctx context.Context, providerID string, day string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: quota counter store is not configured")
	}
	record := new(quotaUsageRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.day = ?", strings.TrimSpace(day)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.Used, nil
}

func (s *QuotaCounterStore) PruneBefore(ctx context.Context, day string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: quota counter store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*quotaUsageRecord)(nil)).
		Where("day < ?", strings.TrimSpace(day)).
		Exec(ctx)
	return err
}

var _ quota.CounterStore = (*QuotaCounterStore)(nil)
