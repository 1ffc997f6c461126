package model

import "time"

// Onboarding audit event names.
const (
	EventOnboardingStarted = "onboarding_started"
	EventStageChanged      = "stage_changed"
	EventStageStatusSet    = "stage_status_set"
	EventStageAssigned     = "stage_assigned"
	EventTaskToggled       = "task_toggled"
	EventReversalRequested = "reversal_requested"
	EventReversalApproved  = "reversal_approved"
	EventReversalDenied    = "reversal_denied"
)

// OnboardingEvent records an entry in a partner's onboarding audit trail.
type OnboardingEvent struct {
	ID        string         `json:"id"`
	PartnerID string         `json:"partner_id"`
	Event     string         `json:"event"`
	ActorID   string         `json:"actor_id"`
	FromStage *Stage         `json:"from_stage,omitempty"`
	ToStage   *Stage         `json:"to_stage,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
