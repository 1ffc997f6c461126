package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pitabwire/partnerhub/internal/catalog"
	"github.com/pitabwire/partnerhub/model"
)

func TestClassify_leavingOnboardedRequiresApproval(t *testing.T) {
	for _, to := range catalog.OrderedStages() {
		if to == model.StageOnboarded {
			continue
		}
		assert.Equal(t, RequiresApproval, Classify(model.StageOnboarded, to), "onboarded -> %s", to)
	}
}

func TestClassify_everythingElseIsDirect(t *testing.T) {
	for _, from := range catalog.OrderedStages() {
		for _, to := range catalog.OrderedStages() {
			if from == model.StageOnboarded && to != model.StageOnboarded {
				continue
			}
			assert.Equal(t, Direct, Classify(from, to), "%s -> %s", from, to)
		}
	}
}

func TestClassify_examples(t *testing.T) {
	tests := []struct {
		from, to model.Stage
		want     Decision
	}{
		{model.StageOutreach, model.StageKYC, Direct},
		{model.StageKYC, model.StageOutreach, Direct},
		{model.StageOnboarded, model.StageOnboarded, Direct},
		{model.StageOnboarded, model.StageAgreement, RequiresApproval},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
