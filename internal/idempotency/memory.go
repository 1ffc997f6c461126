package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Check looks up a stored response.
func (s *MemoryStore) Check(_ context.Context, key, inputHash string) (*Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.live(key)
	if !exists {
		return nil, false, nil
	}
	resp, err := e.data.lookup(key, inputHash)
	return resp, true, err
}

// Reserve inserts a pending entry unless the key is live.
func (s *MemoryStore) Reserve(_ context.Context, key, inputHash string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.live(key); exists {
		return false, nil
	}
	s.entries[key] = &memEntry{
		data:      entry{InputHash: inputHash, Pending: true},
		expiresAt: s.now().Add(ttl),
	}
	return true, nil
}

// Release removes the key's reservation, if it still holds one for inputHash.
func (s *MemoryStore) Release(_ context.Context, key, inputHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.entries[key]; exists && e.data.Pending && e.data.InputHash == inputHash {
		delete(s.entries, key)
	}
	return nil
}

// Save stores a response with TTL.
func (s *MemoryStore) Save(_ context.Context, key, inputHash string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp.Body = append([]byte(nil), resp.Body...)
	s.entries[key] = &memEntry{
		data:      entry{InputHash: inputHash, Response: resp},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// live returns the key's entry, evicting it when expired. Callers hold mu.
func (s *MemoryStore) live(key string) (*memEntry, bool) {
	e, exists := s.entries[key]
	if !exists {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
