package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/inletapp/go-inbox/core"
)

const connectionCacheKeyPrefix = "go-inbox::connection::v1"

// CachedConnectionStore caches connection reads in front of a base store.
// The scheduler resolves the same (user, provider) connection on every pass,
// so FindActive is the hot read. Every write invalidates both lookup paths.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(
	base core.ConnectionStore,
	cacheService repositorycache.CacheService,
) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns the deterministic cache key for by-id reads:
// go-inbox::connection::v1::id::<connection_id> with the segment URL-path
// escaped.
func ConnectionCacheKey(connectionID string) (string, error) {
	trimmed := strings.TrimSpace(connectionID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: connection id is required")
	}
	return strings.Join([]string{connectionCacheKeyPrefix, "id", url.PathEscape(trimmed)}, "::"), nil
}

// ActiveConnectionCacheKey returns the deterministic cache key for the
// active-connection lookup: go-inbox::connection::v1::active::<user>::<provider>.
func ActiveConnectionCacheKey(userID string, providerID string) (string, error) {
	user := strings.TrimSpace(userID)
	provider := strings.TrimSpace(providerID)
	if user == "" || provider == "" {
		return "", fmt.Errorf("sqlstore: user id and provider id are required")
	}
	segments := []string{connectionCacheKeyPrefix, "active", url.PathEscape(user), url.PathEscape(provider)}
	return strings.Join(segments, "::"), nil
}

func (s *CachedConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	created, err := s.base.Create(ctx, in)
	if err != nil {
		return core.Connection{}, err
	}
	if err := s.invalidate(ctx, created); err != nil {
		return core.Connection{}, err
	}
	return created, nil
}

func (s *CachedConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	cacheKey, err := ConnectionCacheKey(id)
	if err != nil {
		return core.Connection{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Connection, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedConnectionStore) FindActive(ctx context.Context, userID string, providerID string) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	cacheKey, err := ActiveConnectionCacheKey(userID, providerID)
	if err != nil {
		return core.Connection{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Connection, error) {
		return s.base.FindActive(ctx, userID, providerID)
	})
}

func (s *CachedConnectionStore) UpdateStatus(ctx context.Context, id string, status string, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	current, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.base.UpdateStatus(ctx, id, status, reason); err != nil {
		return err
	}
	return s.invalidate(ctx, current)
}

func (s *CachedConnectionStore) TouchRefreshed(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	current, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.base.TouchRefreshed(ctx, id, at); err != nil {
		return err
	}
	return s.invalidate(ctx, current)
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, connection core.Connection) error {
	idKey, err := ConnectionCacheKey(connection.ID)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, idKey); err != nil {
		return err
	}
	activeKey, err := ActiveConnectionCacheKey(connection.UserID, connection.ProviderID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, activeKey)
}

var _ core.ConnectionStore = (*CachedConnectionStore)(nil)
