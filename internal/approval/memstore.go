package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/partnerhub/model"
)

// MemoryStore is an in-memory Store for tests and single-instance setups.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]model.PartnerStageReversalRequest // key: request ID
}

// NewMemoryStore creates an empty in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]model.PartnerStageReversalRequest)}
}

// Insert persists a new request.
func (s *MemoryStore) Insert(_ context.Context, req model.PartnerStageReversalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("reversal request %q already exists", req.ID))
	}
	if req.Status == model.ReversalStatusPending {
		for _, r := range s.requests {
			if r.PartnerID == req.PartnerID && r.Status == model.ReversalStatusPending {
				return pendingConflict(req.PartnerID, r.ID)
			}
		}
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// Get retrieves a request by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.PartnerStageReversalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[id]
	if !exists {
		return model.PartnerStageReversalRequest{}, notFound(id)
	}
	return cloneRequest(req), nil
}

// FindPending returns pending requests, optionally filtered by partner.
func (s *MemoryStore) FindPending(_ context.Context, partnerID string) ([]model.PartnerStageReversalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.PartnerStageReversalRequest
	for _, r := range s.requests {
		if r.Status != model.ReversalStatusPending {
			continue
		}
		if partnerID != "" && r.PartnerID != partnerID {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// UpdateStatus resolves a pending request.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, update StatusUpdate) (model.PartnerStageReversalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[id]
	if !exists {
		return model.PartnerStageReversalRequest{}, notFound(id)
	}
	if req.Status != model.ReversalStatusPending {
		return model.PartnerStageReversalRequest{}, alreadyResolved(id, req.Status)
	}

	at := update.ApprovedAt
	req.Status = update.Status
	req.ApprovedBy = update.ApprovedBy
	req.ApprovedAt = &at
	req.UpdatedAt = at
	if update.Comments != nil {
		req.Comments = *update.Comments
	}
	s.requests[id] = req
	return cloneRequest(req), nil
}

// Reopen returns a resolved request to pending.
func (s *MemoryStore) Reopen(_ context.Context, id string, resolvedAt, at time.Time) (model.PartnerStageReversalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[id]
	if !exists {
		return model.PartnerStageReversalRequest{}, notFound(id)
	}
	if !req.Status.Terminal() || req.ApprovedAt == nil || !req.ApprovedAt.Equal(resolvedAt) {
		return model.PartnerStageReversalRequest{}, model.NewInvalidStateError(
			fmt.Sprintf("reversal request %q was not resolved at %s", id, resolvedAt.Format(time.RFC3339Nano)))
	}
	for _, r := range s.requests {
		if r.ID != id && r.PartnerID == req.PartnerID && r.Status == model.ReversalStatusPending {
			return model.PartnerStageReversalRequest{}, pendingConflict(req.PartnerID, r.ID)
		}
	}

	req.Status = model.ReversalStatusPending
	req.ApprovedBy = ""
	req.ApprovedAt = nil
	req.UpdatedAt = at
	s.requests[id] = req
	return cloneRequest(req), nil
}

// UpdateComments replaces the comments of a request.
func (s *MemoryStore) UpdateComments(_ context.Context, id, comments string, at time.Time) (model.PartnerStageReversalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[id]
	if !exists {
		return model.PartnerStageReversalRequest{}, notFound(id)
	}
	req.Comments = comments
	req.UpdatedAt = at
	s.requests[id] = req
	return cloneRequest(req), nil
}

// Len returns the number of stored requests. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

func cloneRequest(req model.PartnerStageReversalRequest) model.PartnerStageReversalRequest {
	if req.ApprovedAt != nil {
		at := *req.ApprovedAt
		req.ApprovedAt = &at
	}
	return req
}

func notFound(id string) *model.ErrorEnvelope {
	return model.NewNotFoundError(fmt.Sprintf("reversal request %q not found", id))
}

func alreadyResolved(id string, status model.ReversalStatus) *model.ErrorEnvelope {
	return model.NewInvalidStateError(fmt.Sprintf("reversal request %q is already %s", id, status))
}

func pendingConflict(partnerID, existingID string) *model.ErrorEnvelope {
	msg := fmt.Sprintf("partner %q already has a pending reversal request", partnerID)
	if existingID != "" {
		msg = fmt.Sprintf("%s (%s)", msg, existingID)
	}
	return model.NewConflictError(msg)
}
