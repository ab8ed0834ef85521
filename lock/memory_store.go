package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and tests.
// Expired entries are reclaimed on the next SetIfAbsent for the same key.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFn   func() time.Time
}

type memoryEntry struct {
	token string
	until time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, token string, ttl time.Duration) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("lock: memory store is nil")
	}
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && now.Before(entry.until) {
		return false, nil
	}
	s.entries[key] = memoryEntry{token: token, until: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key string, token string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("lock: memory store is nil")
	}
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if entry.token != token {
		return false, nil
	}
	delete(s.entries, key)
	if !now.Before(entry.until) {
		// The lease had already expired; another holder could have taken it.
		return false, nil
	}
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
