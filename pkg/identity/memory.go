package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and store-less dev runs.
// Mappings do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{mappings: make(map[string]string)}
}

func (s *MemoryStore) Lookup(_ context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.mappings[Canonical(accountID)]
	if !ok {
		return "", ErrNotFound
	}
	return ref, nil
}

func (s *MemoryStore) Upsert(_ context.Context, accountID, channelRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings[Canonical(accountID)] = channelRef
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mappings, Canonical(accountID))
	return nil
}

// Len reports the number of stored mappings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mappings)
}
