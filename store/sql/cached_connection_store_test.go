package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/inletapp/go-inbox/core"
)

type stubConnectionStore struct {
	mu          sync.Mutex
	connection  core.Connection
	getCalls    int
	findCalls   int
	updateCalls int
	getErr      error
}

func (s *stubConnectionStore) Create(_ context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = core.Connection{
		ID:                "conn_stub",
		UserID:            in.UserID,
		ProviderID:        in.ProviderID,
		ExternalAccountID: in.ExternalAccountID,
		Status:            core.ConnectionStatusActive,
	}
	return s.connection, nil
}

func (s *stubConnectionStore) Get(_ context.Context, _ string) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return core.Connection{}, s.getErr
	}
	return s.connection, nil
}

func (s *stubConnectionStore) FindActive(_ context.Context, _ string, _ string) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	return s.connection, nil
}

func (s *stubConnectionStore) UpdateStatus(_ context.Context, _ string, status string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	s.connection.Status = core.ConnectionStatus(status)
	s.connection.LastError = reason
	return nil
}

func (s *stubConnectionStore) TouchRefreshed(_ context.Context, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	value := at.UTC()
	s.connection.LastRefreshedAt = &value
	return nil
}

func newTestConnectionCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func newStubConnection() core.Connection {
	return core.Connection{
		ID:                "conn_stub",
		UserID:            "usr_cache",
		ProviderID:        "youtube",
		ExternalAccountID: "acct_cache",
		Status:            core.ConnectionStatusActive,
	}
}

func TestCachedConnectionStore_FindActive_MissFetchThenHit(t *testing.T) {
	base := &stubConnectionStore{connection: newStubConnection()}
	store, err := NewCachedConnectionStore(base, newTestConnectionCacheService(t))
	if err != nil {
		t.Fatalf("new cached connection store: %v", err)
	}

	if _, err := store.FindActive(context.Background(), "usr_cache", "youtube"); err != nil {
		t.Fatalf("first find: %v", err)
	}
	if base.findCalls != 1 {
		t.Fatalf("expected first find to hit base store once, got %d", base.findCalls)
	}

	if _, err := store.FindActive(context.Background(), "usr_cache", "youtube"); err != nil {
		t.Fatalf("second find: %v", err)
	}
	if base.findCalls != 1 {
		t.Fatalf("expected second find to be cache hit, base find calls=%d", base.findCalls)
	}
}

func TestCachedConnectionStore_UpdateStatus_InvalidatesBothKeys(t *testing.T) {
	base := &stubConnectionStore{connection: newStubConnection()}
	store, err := NewCachedConnectionStore(base, newTestConnectionCacheService(t))
	if err != nil {
		t.Fatalf("new cached connection store: %v", err)
	}

	if _, err := store.Get(context.Background(), "conn_stub"); err != nil {
		t.Fatalf("prime id cache: %v", err)
	}
	if _, err := store.FindActive(context.Background(), "usr_cache", "youtube"); err != nil {
		t.Fatalf("prime active cache: %v", err)
	}
	baseGetsBefore := base.getCalls
	baseFindsBefore := base.findCalls

	if err := store.UpdateStatus(context.Background(), "conn_stub", string(core.ConnectionStatusExpired), "token revoked"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	refreshed, err := store.Get(context.Background(), "conn_stub")
	if err != nil {
		t.Fatalf("get after invalidation: %v", err)
	}
	if base.getCalls <= baseGetsBefore {
		t.Fatalf("expected invalidated id key to force base read")
	}
	if refreshed.Status != core.ConnectionStatusExpired {
		t.Fatalf("expected refreshed status expired, got %q", refreshed.Status)
	}

	if _, err := store.FindActive(context.Background(), "usr_cache", "youtube"); err != nil {
		t.Fatalf("find after invalidation: %v", err)
	}
	if base.findCalls != baseFindsBefore+1 {
		t.Fatalf("expected invalidated active key to force base read, got %d", base.findCalls)
	}
}

func TestConnectionCacheKey_Contract(t *testing.T) {
	key, err := ActiveConnectionCacheKey(" Usr/One ", "youtube")
	if err != nil {
		t.Fatalf("build cache key: %v", err)
	}
	const expected = "go-inbox::connection::v1::active::Usr%2FOne::youtube"
	if key != expected {
		t.Fatalf("unexpected cache key contract: got %q want %q", key, expected)
	}
}

func TestCachedConnectionStore_PropagatesBaseErrors(t *testing.T) {
	baseErr := fmt.Errorf("lookup failed: %w", core.ErrConnectionNotFound)
	base := &stubConnectionStore{connection: newStubConnection(), getErr: baseErr}
	store, err := NewCachedConnectionStore(base, newTestConnectionCacheService(t))
	if err != nil {
		t.Fatalf("new cached connection store: %v", err)
	}

	_, err = store.Get(context.Background(), "conn_stub")
	if !errors.Is(err, core.ErrConnectionNotFound) {
		t.Fatalf("expected base error propagation, got %v", err)
	}
}
