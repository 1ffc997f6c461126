package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitySet_Has_exact(t *testing.T) {
	cs := CapabilitySet{CapOnboardingView: true}
	assert.True(t, cs.Has(CapOnboardingView))
	assert.False(t, cs.Has(CapStageEdit))
}

func TestCapabilitySet_Has_wildcard(t *testing.T) {
	tests := []struct {
		pattern string
		cap     string
		want    bool
	}{
		{"*", CapReversalReview, true},
		{"onboarding:*", CapStageEdit, true},
		{"onboarding:reversal:*", CapReversalReview, true},
		{"onboarding:reversal:*", CapStageEdit, false},
		{"onboarding:stage", CapStageEdit, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"->"+tt.cap, func(t *testing.T) {
			cs := CapabilitySet{tt.pattern: true}
			assert.Equal(t, tt.want, cs.Has(tt.cap))
		})
	}
}

func TestCapabilitySet_HasAll(t *testing.T) {
	cs := CapabilitySet{CapOnboardingView: true, CapTaskEdit: true}
	assert.True(t, cs.HasAll(CapOnboardingView, CapTaskEdit))
	assert.False(t, cs.HasAll(CapOnboardingView, CapReversalReview), "one capability missing")
}
