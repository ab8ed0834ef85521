package quota

import (
	"context"
	"fmt"
	"sync"
)

// MemoryCounterStore is an in-process CounterStore for single-node
// deployments and tests.
type MemoryCounterStore struct {
	mu    sync.Mutex
	items map[string]int64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{items: map[string]int64{}}
}

func counterKey(providerID string, day string) string {
	return providerID + "|" + day
}

func (s *MemoryCounterStore) IncrementAndGet(_ context.Context, providerID string, day string, units int64) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("quota: counter store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey(providerID, day)
	s.items[key] += units
	return s.items[key], nil
}

func (s *MemoryCounterStore) Get(_ context.Context, providerID string, day string) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("quota: counter store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[counterKey(providerID, day)], nil
}

func (s *MemoryCounterStore) PruneBefore(_ context.Context, day string) error {
	if s == nil {
		return fmt.Errorf("quota: counter store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		// Keys are provider|YYYY-MM-DD; the lexical compare matches the
		// chronological one for the fixed-width day segment.
		if idx := len(key) - len(day); idx > 0 && key[idx:] < day {
			delete(s.items, key)
		}
	}
	return nil
}

var _ CounterStore = (*MemoryCounterStore)(nil)
