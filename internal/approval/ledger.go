// Package approval is the ledger of stage-reversal requests: submission,
// resolution and the comments attached to them.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/partnerhub/model"
)

// SubmitInput is the data of a new stage-reversal request.
type SubmitInput struct {
	PartnerID   string
	FromStage   model.Stage
	ToStage     model.Stage
	RequestedBy string
	Reason      string
}

// Ledger validates and records stage-reversal requests.
type Ledger struct {
	store Store
	now   func() time.Time
	newID func() string
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides how request IDs are generated.
func WithIDGenerator(newID func() string) LedgerOption {
	return func(l *Ledger) { l.newID = newID }
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit records a new pending request.
func (l *Ledger) Submit(ctx context.Context, in SubmitInput) (model.PartnerStageReversalRequest, error) {
	var errs []model.FieldError
	if strings.TrimSpace(in.PartnerID) == "" {
		errs = append(errs, requiredField("partner_id"))
	}
	if strings.TrimSpace(in.RequestedBy) == "" {
		errs = append(errs, requiredField("requested_by"))
	}
	if strings.TrimSpace(in.Reason) == "" {
		errs = append(errs, model.FieldError{
			Field:   "reason",
			Code:    "required",
			Message: "a reason is required to reverse an onboarded partner",
		})
	}
	if !in.FromStage.Valid() {
		errs = append(errs, invalidStage("from_stage", in.FromStage))
	}
	if !in.ToStage.Valid() {
		errs = append(errs, invalidStage("to_stage", in.ToStage))
	}
	if len(errs) > 0 {
		return model.PartnerStageReversalRequest{}, model.NewValidationError(errs)
	}

	now := l.now()
	req := model.PartnerStageReversalRequest{
		ID:          l.newID(),
		PartnerID:   in.PartnerID,
		FromStage:   in.FromStage,
		ToStage:     in.ToStage,
		RequestedBy: in.RequestedBy,
		RequestedAt: now,
		Status:      model.ReversalStatusPending,
		Reason:      strings.TrimSpace(in.Reason),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.Insert(ctx, req); err != nil {
		return model.PartnerStageReversalRequest{}, err
	}
	return req, nil
}

// Resolve approves or denies a pending request. An empty comments string
// leaves existing comments unchanged.
func (l *Ledger) Resolve(ctx context.Context, id string, decision model.ReversalStatus, approvedBy, comments string) (model.PartnerStageReversalRequest, error) {
	var errs []model.FieldError
	if strings.TrimSpace(id) == "" {
		errs = append(errs, requiredField("request_id"))
	}
	if !decision.Terminal() {
		errs = append(errs, model.FieldError{
			Field:   "decision",
			Code:    "invalid",
			Message: fmt.Sprintf("decision must be %q or %q, got %q", model.ReversalStatusApproved, model.ReversalStatusDenied, decision),
		})
	}
	if strings.TrimSpace(approvedBy) == "" {
		errs = append(errs, requiredField("approved_by"))
	}
	if len(errs) > 0 {
		return model.PartnerStageReversalRequest{}, model.NewValidationError(errs)
	}

	update := StatusUpdate{
		Status:     decision,
		ApprovedBy: approvedBy,
		ApprovedAt: l.now(),
	}
	if c := strings.TrimSpace(comments); c != "" {
		update.Comments = &c
	}
	return l.store.UpdateStatus(ctx, id, update)
}

// Reopen undoes a decision that could not be carried out, returning the
// request to pending so it can be decided again. resolvedAt must be the
// ApprovedAt of the decision being undone.
func (l *Ledger) Reopen(ctx context.Context, id string, resolvedAt time.Time) (model.PartnerStageReversalRequest, error) {
	if strings.TrimSpace(id) == "" {
		return model.PartnerStageReversalRequest{}, model.NewRequiredFieldError("request_id")
	}
	return l.store.Reopen(ctx, id, resolvedAt, l.now())
}

// Get returns a request by ID.
func (l *Ledger) Get(ctx context.Context, id string) (model.PartnerStageReversalRequest, error) {
	if strings.TrimSpace(id) == "" {
		return model.PartnerStageReversalRequest{}, model.NewRequiredFieldError("request_id")
	}
	return l.store.Get(ctx, id)
}

// ListPending returns the pending requests, optionally for one partner.
func (l *Ledger) ListPending(ctx context.Context, partnerID string) ([]model.PartnerStageReversalRequest, error) {
	return l.store.FindPending(ctx, strings.TrimSpace(partnerID))
}

// Comment replaces the comments of a request. Comments stay editable after
// the request is resolved.
func (l *Ledger) Comment(ctx context.Context, id, comments string) (model.PartnerStageReversalRequest, error) {
	if strings.TrimSpace(id) == "" {
		return model.PartnerStageReversalRequest{}, model.NewRequiredFieldError("request_id")
	}
	return l.store.UpdateComments(ctx, id, strings.TrimSpace(comments), l.now())
}

func requiredField(field string) model.FieldError {
	return model.FieldError{Field: field, Code: "required", Message: fmt.Sprintf("%s is required", field)}
}

func invalidStage(field string, s model.Stage) model.FieldError {
	return model.FieldError{Field: field, Code: "invalid", Message: fmt.Sprintf("unknown onboarding stage %s", s)}
}
