package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inletapp/go-inbox/core"
)

const defaultTTL = 30 * time.Second

var (
	// ErrLockBusy signals expected contention, not a failure.
	ErrLockBusy = errors.New("lock: lock busy")
	ErrNotHeld  = errors.New("lock: lease not held")
)

// Store is the shared key-value surface a lease runs against. SetIfAbsent
// must be a single atomic operation; CompareAndDelete must only remove the
// key when the holder token matches.
type Store interface {
	SetIfAbsent(ctx context.Context, key string, token string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, token string) (bool, error)
}

// Lease is one held lock. Release is idempotent; releasing a lease whose TTL
// already expired and was reclaimed returns ErrNotHeld.
type Lease struct {
	manager *Manager
	name    string
	token   string
	once    sync.Once
}

func (l *Lease) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

func (l *Lease) Token() string {
	if l == nil {
		return ""
	}
	return l.token
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.manager == nil {
		return nil
	}
	var err error
	released := false
	l.once.Do(func() {
		released = true
		var ok bool
		ok, err = l.manager.store.CompareAndDelete(ctx, l.manager.key(l.name), l.token)
		if err == nil && !ok {
			err = fmt.Errorf("lock: release %q: %w", l.name, ErrNotHeld)
		}
	})
	if !released {
		return nil
	}
	return err
}

// Unlock makes Lease usable as a core.LockHandle.
func (l *Lease) Unlock(ctx context.Context) error {
	err := l.Release(ctx)
	if errors.Is(err, ErrNotHeld) {
		return nil
	}
	return err
}

// Manager hands out named TTL leases. Leases are never renewed; protected
// work must finish within the TTL or be safely restartable.
type Manager struct {
	store     Store
	keyPrefix string
	newToken  func() string
}

type Option func(*Manager)

func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			m.keyPrefix = trimmed
		}
	}
}

func WithTokenGenerator(generate func() string) Option {
	return func(m *Manager) {
		if generate != nil {
			m.newToken = generate
		}
	}
}

func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("lock: store is required")
	}
	manager := &Manager{
		store:     store,
		keyPrefix: "inbox.lock",
		newToken:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(manager)
	}
	return manager, nil
}

func (m *Manager) key(name string) string {
	return m.keyPrefix + ":" + name
}

// TryAcquire attempts a single atomic acquisition. Contention returns
// ErrLockBusy; callers must not re-acquire a name they already hold.
func (m *Manager) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if m == nil {
		return nil, fmt.Errorf("lock: manager is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("lock: lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	token := m.newToken()
	acquired, err := m.store.SetIfAbsent(ctx, m.key(name), token, ttl)
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %q: %w", name, err)
	}
	if !acquired {
		return nil, fmt.Errorf("lock: acquire %q: %w", name, ErrLockBusy)
	}
	return &Lease{manager: m, name: name, token: token}, nil
}

// Acquire adapts TryAcquire to the core.ConnectionLocker contract.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (core.LockHandle, error) {
	lease, err := m.TryAcquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

var (
	_ core.ConnectionLocker = (*Manager)(nil)
	_ core.LockHandle       = (*Lease)(nil)
)
