package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	manager, err := NewManager(store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store
}

func TestManager_TryAcquireAndRelease(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	lease, err := manager.TryAcquire(ctx, "refresh:conn-1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.Token() == "" {
		t.Fatalf("expected a holder token")
	}

	if _, err := manager.TryAcquire(ctx, "refresh:conn-1", time.Minute); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy; got %v", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := manager.TryAcquire(ctx, "refresh:conn-1", time.Minute); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestManager_IndependentNames(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := manager.TryAcquire(ctx, "refresh:conn-1", time.Minute); err != nil {
		t.Fatalf("acquire conn-1: %v", err)
	}
	if _, err := manager.TryAcquire(ctx, "refresh:conn-2", time.Minute); err != nil {
		t.Fatalf("acquire conn-2: %v", err)
	}
}

func TestManager_ExpiredLeaseIsReclaimable(t *testing.T) {
	store := NewMemoryStore()
	current := time.Unix(1700000000, 0).UTC()
	store.nowFn = func() time.Time { return current }
	manager, err := NewManager(store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()

	stale, err := manager.TryAcquire(ctx, "run", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	current = current.Add(time.Minute)

	fresh, err := manager.TryAcquire(ctx, "run", 30*time.Second)
	if err != nil {
		t.Fatalf("expected expired lease to be reclaimable; got %v", err)
	}

	// The stale holder crashed past its TTL; its late release must not
	// disturb the new holder.
	if err := stale.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld for stale release; got %v", err)
	}
	if err := fresh.Release(ctx); err != nil {
		t.Fatalf("release fresh lease: %v", err)
	}
}

func TestLease_ReleaseIsIdempotent(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	lease, err := manager.TryAcquire(ctx, "run", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
}

func TestManager_UnlockAdaptsLeaseForRefreshLocking(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	handle, err := manager.Acquire(ctx, "refresh:conn-1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := handle.Unlock(ctx); err != nil {
		t.Fatalf("double unlock should be a no-op: %v", err)
	}
}
