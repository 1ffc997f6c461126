package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/partnerhub/model"
)

func TestMemoryEventStore_orderAndFilters(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Appended out of order on purpose.
	for i, ev := range []struct {
		name   string
		offset time.Duration
	}{
		{model.EventTaskToggled, 2 * time.Minute},
		{model.EventOnboardingStarted, 0},
		{model.EventStageChanged, time.Minute},
		{model.EventTaskToggled, 3 * time.Minute},
	} {
		require.NoError(t, store.Append(ctx, model.OnboardingEvent{
			ID:        string(rune('a' + i)),
			PartnerID: "p-1",
			Event:     ev.name,
			Timestamp: base.Add(ev.offset),
		}))
	}
	require.NoError(t, store.Append(ctx, model.OnboardingEvent{ID: "z", PartnerID: "p-2", Event: model.EventOnboardingStarted, Timestamp: base}))

	all, err := store.List(ctx, "p-1", EventFilters{})
	require.NoError(t, err)
	got := make([]string, len(all))
	for i, e := range all {
		got[i] = e.Event
	}
	assert.Equal(t, []string{model.EventOnboardingStarted, model.EventStageChanged, model.EventTaskToggled, model.EventTaskToggled}, got)

	toggles, _ := store.List(ctx, "p-1", EventFilters{Event: model.EventTaskToggled})
	assert.Len(t, toggles, 2)

	latest, _ := store.List(ctx, "p-1", EventFilters{Limit: 1})
	require.Len(t, latest, 1)
	assert.Equal(t, "d", latest[0].ID, "most recent event")

	none, _ := store.List(ctx, "p-3", EventFilters{})
	assert.Empty(t, none)

	assert.Equal(t, 5, store.Len())
}
