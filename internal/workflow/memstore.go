package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/pitabwire/partnerhub/model"
)

// MemoryEventStore is an in-memory EventStore for tests and single-instance
// setups.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]model.OnboardingEvent // key: partner ID
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string][]model.OnboardingEvent)}
}

// Append adds an event to the partner's audit trail.
func (s *MemoryEventStore) Append(_ context.Context, event model.OnboardingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.PartnerID] = append(s.events[event.PartnerID], event)
	return nil
}

// List retrieves a partner's events ordered by timestamp.
func (s *MemoryEventStore) List(_ context.Context, partnerID string, filters EventFilters) ([]model.OnboardingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.OnboardingEvent, 0, len(s.events[partnerID]))
	for _, e := range s.events[partnerID] {
		if filters.Event != "" && e.Event != filters.Event {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[len(result)-filters.Limit:]
	}
	return result, nil
}

// Len returns the total number of events. For testing.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, events := range s.events {
		n += len(events)
	}
	return n
}
