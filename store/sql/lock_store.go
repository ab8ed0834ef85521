package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/inletapp/go-inbox/lock"
)

// LockLeaseStore backs the advisory lock manager with one lease row per lock
// name. A lease is free when no row exists or the row has expired; takeover
// of an expired lease happens inside the upsert so two contenders cannot
// both win.
type LockLeaseStore struct {
	db *bun.DB
}

func NewLockLeaseStore(db *bun.DB) (*LockLeaseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &LockLeaseStore{db: db}, nil
}

func (s *LockLeaseStore) SetIfAbsent(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: lock lease store is not configured")
	}
	key = strings.TrimSpace(key)
	token = strings.TrimSpace(token)
	if key == "" || token == "" {
		return false, fmt.Errorf("sqlstore: lock key and token are required")
	}
	now := time.Now().UTC()
	record := &lockLeaseRecord{
		Name:      key,
		Token:     token,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (name) DO UPDATE").
		Set("token = excluded.token").
		Set("expires_at = excluded.expires_at").
		Set("updated_at = excluded.updated_at").
		Where("ill.expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *LockLeaseStore) CompareAndDelete(ctx context.Context, key string, token string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: lock lease store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*lockLeaseRecord)(nil)).
		Where("name = ?", strings.TrimSpace(key)).
		Where("token = ?", strings.TrimSpace(token)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

var _ lock.Store = (*LockLeaseStore)(nil)
