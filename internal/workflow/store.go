package workflow

import (
	"context"

	"github.com/pitabwire/partnerhub/model"
)

// EventStore persists the onboarding audit trail.
type EventStore interface {
	// Append adds an event to a partner's audit trail.
	Append(ctx context.Context, event model.OnboardingEvent) error

	// List returns a partner's events ordered by timestamp, oldest first.
	List(ctx context.Context, partnerID string, filters EventFilters) ([]model.OnboardingEvent, error)
}

// EventFilters are optional filters for listing events.
type EventFilters struct {
	Event string
	// Limit keeps only the most recent events when positive.
	Limit int
}
