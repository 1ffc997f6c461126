package approval

import (
	"context"
	"time"

	"github.com/pitabwire/partnerhub/model"
)

// Store persists stage-reversal requests.
type Store interface {
	// Insert persists a new pending request. Returns CONFLICT if the partner
	// already has a pending request.
	Insert(ctx context.Context, req model.PartnerStageReversalRequest) error

	// Get retrieves a request by ID. Returns NOT_FOUND if absent.
	Get(ctx context.Context, id string) (model.PartnerStageReversalRequest, error)

	// FindPending returns pending requests ordered by request time. An empty
	// partnerID returns the pending requests of every partner.
	FindPending(ctx context.Context, partnerID string) ([]model.PartnerStageReversalRequest, error)

	// UpdateStatus resolves a request. The update only applies while the
	// stored status is pending. Returns NOT_FOUND if absent and INVALID_STATE
	// if the request is already resolved.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (model.PartnerStageReversalRequest, error)

	// Reopen returns a resolved request to pending, clearing the approver.
	// It only applies while the stored decision is still the one made at
	// resolvedAt. Returns NOT_FOUND if absent, INVALID_STATE if the request
	// was resolved differently and CONFLICT if the partner has meanwhile
	// filed another pending request.
	Reopen(ctx context.Context, id string, resolvedAt, at time.Time) (model.PartnerStageReversalRequest, error)

	// UpdateComments replaces the comments of a request in any status.
	UpdateComments(ctx context.Context, id, comments string, at time.Time) (model.PartnerStageReversalRequest, error)
}

// StatusUpdate carries the fields written when a request is resolved. A nil
// Comments leaves the stored comments unchanged.
type StatusUpdate struct {
	Status     model.ReversalStatus
	ApprovedBy string
	ApprovedAt time.Time
	Comments   *string
}
