package model

import "strings"

// Capabilities checked by the HTTP layer.
const (
	CapOnboardingView  = "onboarding:view"
	CapStageEdit       = "onboarding:stage:edit"
	CapTaskEdit        = "onboarding:task:edit"
	CapReversalReview  = "onboarding:reversal:review"
	CapReversalComment = "onboarding:reversal:comment"
)

// CapabilitySet is a set of capabilities granted to a user. Each key is a
// capability string (e.g. "onboarding:stage:edit") and may include wildcards
// (e.g. "onboarding:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities.
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
//
//	"*"                        matches anything
//	"onboarding:*"             matches "onboarding:stage:edit"
//	"onboarding:reversal:*"    matches "onboarding:reversal:review"
//	"onboarding:stage"         does NOT match "onboarding:stage:edit"
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the full capability set for a request context.
type CapabilityResolver interface {
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given subject.
	Invalidate(subjectID string)
}

// PolicyEvaluator maps a caller's roles to capabilities.
type PolicyEvaluator interface {
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)

	// Sync refreshes policy data from its source.
	Sync() error
}
