package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a process-local StorageAdapter for tests and the CLI.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]inMemoryEntry
	now     func() time.Time
}

type inMemoryEntry struct {
	value     []byte
	updatedAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]inMemoryEntry), now: time.Now}
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = inMemoryEntry{value: append([]byte(nil), value...), updatedAt: s.now()}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *InMemoryStore) Scan(_ context.Context, prefix string, fn func(key string, value []byte, updatedAt time.Time) bool) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make([]inMemoryEntry, len(keys))
	for i, k := range keys {
		snapshot[i] = s.entries[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if !fn(k, append([]byte(nil), snapshot[i].value...), snapshot[i].updatedAt) {
			break
		}
	}
	return nil
}

// SetClock replaces the store's time source.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
