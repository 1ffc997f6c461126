// Package policy decides whether an onboarding stage change can be applied
// immediately or has to go through the reversal approval workflow.
package policy

import "github.com/pitabwire/partnerhub/model"

// Decision is the outcome of classifying a stage transition.
type Decision int

const (
	// Direct transitions are applied immediately.
	Direct Decision = iota
	// RequiresApproval transitions are recorded as reversal requests and only
	// applied once a reviewer approves them.
	RequiresApproval
)

func (d Decision) String() string {
	if d == RequiresApproval {
		return "requires_approval"
	}
	return "direct"
}

// Classify returns the decision for moving a partner from one stage to
// another. Leaving the onboarded stage requires approval; every other
// transition, forward or backward, is direct.
func Classify(from, to model.Stage) Decision {
	if from == model.StageOnboarded && to != model.StageOnboarded {
		return RequiresApproval
	}
	return Direct
}
