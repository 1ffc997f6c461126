package onboarding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/partnerhub/model"
)

// MemoryStore is an in-memory Store for tests and single-instance setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.PartnerOnboarding // key: partner ID
}

// NewMemoryStore creates an empty in-memory onboarding store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.PartnerOnboarding)}
}

// Create persists a new record.
func (s *MemoryStore) Create(_ context.Context, rec model.PartnerOnboarding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.PartnerID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("onboarding for partner %q already exists", rec.PartnerID),
		)
	}
	s.records[rec.PartnerID] = rec.Clone()
	return nil
}

// Load retrieves a record by partner ID.
func (s *MemoryStore) Load(_ context.Context, partnerID string) (model.PartnerOnboarding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[partnerID]
	if !exists {
		return model.PartnerOnboarding{}, notFound(partnerID)
	}
	return rec.Clone(), nil
}

// Save persists an updated record with optimistic locking.
func (s *MemoryStore) Save(_ context.Context, rec model.PartnerOnboarding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.PartnerID]
	if !exists {
		return notFound(rec.PartnerID)
	}
	if existing.Version != rec.Version {
		return model.NewConflictError(
			fmt.Sprintf("onboarding for partner %q version conflict (expected %d, got %d)",
				rec.PartnerID, rec.Version, existing.Version),
		)
	}

	rec = rec.Clone()
	rec.Version++
	if rec.LastActivity.IsZero() {
		rec.LastActivity = time.Now().UTC()
	}
	s.records[rec.PartnerID] = rec
	return nil
}

// Len returns the number of stored records. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func notFound(partnerID string) *model.ErrorEnvelope {
	return model.NewNotFoundError(fmt.Sprintf("onboarding for partner %q not found", partnerID))
}
