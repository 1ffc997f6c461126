package onboarding

import (
	"context"

	"github.com/pitabwire/partnerhub/model"
)

// Store persists partner onboarding records.
type Store interface {
	// Create persists a new record. Returns CONFLICT if the partner already
	// has one.
	Create(ctx context.Context, rec model.PartnerOnboarding) error

	// Load retrieves the record of a partner. Returns NOT_FOUND if the
	// partner has no onboarding record.
	Load(ctx context.Context, partnerID string) (model.PartnerOnboarding, error)

	// Save persists an updated record with optimistic locking. The version
	// must match the stored version. Returns CONFLICT if it has changed.
	Save(ctx context.Context, rec model.PartnerOnboarding) error
}
