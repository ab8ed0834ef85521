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

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{db: db, repo: repo}, nil
}

func (s *ConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: user id is required")
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: provider id is required")
	}
	if strings.TrimSpace(in.ExternalAccountID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: external account id is required")
	}

	status := in.Status
	if strings.TrimSpace(string(status)) == "" {
		status = core.ConnectionStatusActive
	}

	record := newConnectionRecord(core.CreateConnectionInput{
		UserID:            strings.TrimSpace(in.UserID),
		ProviderID:        strings.TrimSpace(in.ProviderID),
		ExternalAccountID: strings.TrimSpace(in.ExternalAccountID),
		Status:            status,
	}, time.Now().UTC())

	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Connection{}, err
	}
	return created.toDomain(), nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) FindActive(ctx context.Context, userID string, providerID string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectBy("status", "=", string(core.ConnectionStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Connection{}, err
	}
	if len(records) == 0 {
		return core.Connection{}, fmt.Errorf(
			"sqlstore: no active connection for user %q provider %q: %w",
			userID, providerID, core.ErrConnectionNotFound,
		)
	}
	return records[0].toDomain(), nil
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status string, reason string) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	current, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return err
	}
	current.Status = strings.TrimSpace(status)
	current.LastError = strings.TrimSpace(reason)
	current.UpdatedAt = time.Now().UTC()

	_, err = s.repo.Update(ctx, current, repository.UpdateByID(trimmedID))
	return err
}

func (s *ConnectionStore) TouchRefreshed(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	refreshedAt := at.UTC()
	_, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("last_refreshed_at = ?", refreshedAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Exec(ctx)
	return err
}

var _ core.ConnectionStore = (*ConnectionStore)(nil)
