package model

import "time"

// ReversalStatus is the status of a stage-reversal request.
type ReversalStatus string

// Reversal request status constants. Approved and denied are terminal.
const (
	ReversalStatusPending  ReversalStatus = "pending"
	ReversalStatusApproved ReversalStatus = "approved"
	ReversalStatusDenied   ReversalStatus = "denied"
)

// Terminal reports whether no further status change is allowed.
func (s ReversalStatus) Terminal() bool {
	return s == ReversalStatusApproved || s == ReversalStatusDenied
}

// PartnerStageReversalRequest records a request to move a partner out of the
// onboarded stage. ApprovedBy and ApprovedAt record who resolved the request
// and when, for both approvals and denials.
type PartnerStageReversalRequest struct {
	ID          string         `json:"id"`
	PartnerID   string         `json:"partner_id"`
	FromStage   Stage          `json:"from_stage"`
	ToStage     Stage          `json:"to_stage"`
	RequestedBy string         `json:"requested_by"`
	RequestedAt time.Time      `json:"requested_at"`
	ApprovedBy  string         `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time     `json:"approved_at,omitempty"`
	Status      ReversalStatus `json:"status"`
	Reason      string         `json:"reason"`
	Comments    string         `json:"comments,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
