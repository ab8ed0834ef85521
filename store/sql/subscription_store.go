package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/inletapp/go-inbox/core"
)

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriptionRecord](db, subscriptionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscription repository wiring: %w", err)
		}
	}
	return &SubscriptionStore{db: db, repo: repo}, nil
}

func (s *SubscriptionStore) Create(ctx context.Context, in core.CreateSubscriptionInput) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	if strings.TrimSpace(in.ConnectionID) == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: connection id is required")
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.ProviderID) == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: user id and provider id are required")
	}
	if strings.TrimSpace(in.ResourceID) == "" {
		return core.Subscription{}, fmt.Errorf("sqlstore: resource id is required")
	}

	record := newSubscriptionRecord(in, time.Now().UTC())
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Subscription{}, err
	}
	return created.toDomain(), nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Subscription{}, fmt.Errorf("%w: %s", core.ErrSubscriptionNotFound, strings.TrimSpace(id))
	}
	return record.toDomain(), nil
}

// ListDue selects active subscriptions whose next poll time has passed,
// oldest due first. A never-polled subscription has a NULL next_poll_at and
// is always due.
func (s *SubscriptionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]core.Subscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	cutoff := now.UTC()
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("status", "=", string(core.SubscriptionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.deleted_at IS NULL").
				Where("(?TableAlias.next_poll_at IS NULL OR ?TableAlias.next_poll_at <= ?)", cutoff).
				OrderExpr("?TableAlias.next_poll_at ASC")
		}),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Subscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SubscriptionStore) ListByConnection(ctx context.Context, connectionID string) ([]core.Subscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("connection_id", "=", strings.TrimSpace(connectionID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Subscription, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// MarkPolled records a completed poll and schedules the next one from the
// row's current interval.
func (s *SubscriptionStore) MarkPolled(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: subscription id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}

	polledAt := at.UTC()
	nextPoll := polledAt.Add(time.Duration(current.PollIntervalSeconds) * time.Second)
	current.LastPolledAt = &polledAt
	current.NextPollAt = &nextPoll
	current.PassCount++
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *SubscriptionStore) UpdateInterval(ctx context.Context, id string, interval time.Duration) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: subscription id is required")
	}
	if interval <= 0 {
		return fmt.Errorf("sqlstore: poll interval must be positive")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}

	current.PollIntervalSeconds = int64(interval / time.Second)
	if current.LastPolledAt != nil {
		nextPoll := current.LastPolledAt.Add(interval)
		current.NextPollAt = &nextPoll
	}
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *SubscriptionStore) UpdateState(ctx context.Context, id string, status string, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: subscription id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	current.Status = strings.TrimSpace(status)
	current.StateReason = strings.TrimSpace(reason)
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *SubscriptionStore) Unsubscribe(ctx context.Context, id string) error {
	return s.UpdateState(ctx, id, string(core.SubscriptionStatusUnsubscribed), "user unsubscribed")
}

var _ core.SubscriptionStore = (*SubscriptionStore)(nil)
