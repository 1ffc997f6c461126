// Package workflow coordinates stage changes: it classifies each requested
// change, applies direct ones, routes gated ones through the reversal ledger,
// and applies approved reversals. Every transition is recorded in the audit
// trail and announced through the notifier.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/partnerhub/internal/approval"
	"github.com/pitabwire/partnerhub/internal/notify"
	"github.com/pitabwire/partnerhub/internal/observability"
	"github.com/pitabwire/partnerhub/internal/onboarding"
	"github.com/pitabwire/partnerhub/internal/policy"
	"github.com/pitabwire/partnerhub/model"
)

// systemActor is recorded when the service itself initiates a change.
const systemActor = "system"

// StageChangeResult is the outcome of RequestStageChange.
type StageChangeResult struct {
	// Applied is true when the change took effect immediately.
	Applied bool `json:"applied"`
	// RequestID identifies the reversal request awaiting approval when the
	// change was gated.
	RequestID string `json:"request_id,omitempty"`
	// Onboarding is the partner's record after the call. It is unchanged
	// when the change was gated.
	Onboarding model.PartnerOnboarding `json:"onboarding"`
}

// DecisionResult is the outcome of Decide.
type DecisionResult struct {
	Request model.PartnerStageReversalRequest `json:"request"`
	// Onboarding is the partner's record after an approval was applied. Nil
	// for denials.
	Onboarding *model.PartnerOnboarding `json:"onboarding,omitempty"`
}

// Controller is the single entry point for onboarding progression.
type Controller struct {
	onboarding *onboarding.Service
	ledger     *approval.Ledger
	events     EventStore
	notifier   notify.Notifier
	logger     *zap.Logger
	metrics    *observability.Metrics
	autoInit   bool
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithEventStore sets the audit trail store.
func WithEventStore(store EventStore) Option {
	return func(c *Controller) { c.events = store }
}

// WithNotifier sets the notifier invoked after successful transitions.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics enables metric recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithAutoInitialize makes reads of a partner without an onboarding record
// create one instead of failing with NOT_FOUND.
func WithAutoInitialize(enabled bool) Option {
	return func(c *Controller) { c.autoInit = enabled }
}

// WithClock overrides the time source used for audit events and
// notifications.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller. Without options it keeps the audit
// trail in memory, logs nothing and sends no notifications.
func NewController(svc *onboarding.Service, ledger *approval.Ledger, opts ...Option) *Controller {
	c := &Controller{
		onboarding: svc,
		ledger:     ledger,
		events:     NewMemoryEventStore(),
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartOnboarding creates the onboarding record of a partner.
func (c *Controller) StartOnboarding(ctx context.Context, partnerID, actor string) (rec model.PartnerOnboarding, err error) {
	ctx, done := c.observe(ctx, "start_onboarding", observability.AttrPartnerID.String(partnerID))
	defer func() { done(err) }()

	rec, err = c.onboarding.Initialize(ctx, partnerID)
	if err != nil {
		return model.PartnerOnboarding{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordOnboardingStarted()
	}
	stage := rec.CurrentStage
	c.appendEvent(ctx, model.OnboardingEvent{
		PartnerID: partnerID,
		Event:     model.EventOnboardingStarted,
		ActorID:   actorOrSystem(actor),
		ToStage:   &stage,
	})
	c.logger.Info("onboarding started",
		zap.String("partner_id", partnerID),
		zap.String("actor", actorOrSystem(actor)),
	)
	return rec, nil
}

// GetOnboarding returns the onboarding record of a partner, creating it when
// auto-initialization is enabled.
func (c *Controller) GetOnboarding(ctx context.Context, partnerID string) (model.PartnerOnboarding, error) {
	rec, err := c.onboarding.Get(ctx, partnerID)
	if err == nil || !c.autoInit || !model.IsCode(err, model.ErrNotFound) {
		return rec, err
	}

	rec, err = c.StartOnboarding(ctx, partnerID, systemActor)
	if model.IsCode(err, model.ErrConflict) {
		// Created concurrently.
		return c.onboarding.Get(ctx, partnerID)
	}
	return rec, err
}

// RequestStageChange moves a partner to toStage when policy allows it
// directly, or files a reversal request awaiting approval otherwise.
func (c *Controller) RequestStageChange(ctx context.Context, partnerID string, toStage model.Stage, requestedBy, reason string) (result StageChangeResult, err error) {
	ctx, done := c.observe(ctx, "request_stage_change",
		observability.AttrPartnerID.String(partnerID),
		observability.AttrToStage.String(toStage.String()),
	)
	defer func() { done(err) }()

	if !toStage.Valid() {
		return StageChangeResult{}, model.NewFieldValidationError("to_stage", fmt.Sprintf("unknown onboarding stage %s", toStage))
	}
	if strings.TrimSpace(requestedBy) == "" {
		return StageChangeResult{}, model.NewRequiredFieldError("requested_by")
	}

	current, err := c.GetOnboarding(ctx, partnerID)
	if err != nil {
		return StageChangeResult{}, err
	}
	fromStage := current.CurrentStage
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(observability.AttrFromStage.String(fromStage.String()))

	switch policy.Classify(fromStage, toStage) {
	case policy.RequiresApproval:
		if strings.TrimSpace(reason) == "" {
			return StageChangeResult{}, model.NewValidationError([]model.FieldError{{
				Field:   "reason",
				Code:    "required",
				Message: fmt.Sprintf("moving a partner out of %s requires a reason", fromStage),
			}})
		}
		req, err := c.ledger.Submit(ctx, approval.SubmitInput{
			PartnerID:   partnerID,
			FromStage:   fromStage,
			ToStage:     toStage,
			RequestedBy: requestedBy,
			Reason:      reason,
		})
		if err != nil {
			return StageChangeResult{}, err
		}
		c.recordReversalRequested(ctx, req)
		span.SetAttributes(observability.AttrApplied.Bool(false), observability.AttrRequestID.String(req.ID))
		return StageChangeResult{Applied: false, RequestID: req.ID, Onboarding: current}, nil

	default:
		updated, err := c.onboarding.ApplyStageChange(ctx, partnerID, toStage)
		if err != nil {
			return StageChangeResult{}, err
		}
		c.recordStageChanged(ctx, partnerID, fromStage, toStage, requestedBy, "")
		span.SetAttributes(observability.AttrApplied.Bool(true))
		return StageChangeResult{Applied: true, Onboarding: updated}, nil
	}
}

// Decide resolves a pending reversal request. An approval applies the
// deferred stage change; a denial leaves the partner where it is.
func (c *Controller) Decide(ctx context.Context, requestID string, decision model.ReversalStatus, approvedBy, comments string) (result DecisionResult, err error) {
	ctx, done := c.observe(ctx, "decide",
		observability.AttrRequestID.String(requestID),
		observability.AttrDecision.String(string(decision)),
	)
	defer func() { done(err) }()

	// Make sure an approval can be applied before the decision is recorded.
	if decision == model.ReversalStatusApproved {
		pending, err := c.ledger.Get(ctx, requestID)
		if err != nil {
			return DecisionResult{}, err
		}
		if pending.Status == model.ReversalStatusPending {
			if _, err := c.onboarding.Get(ctx, pending.PartnerID); err != nil {
				return DecisionResult{}, err
			}
		}
	}

	req, err := c.ledger.Resolve(ctx, requestID, decision, approvedBy, comments)
	if err != nil {
		return DecisionResult{}, err
	}

	result = DecisionResult{Request: req}
	if req.Status != model.ReversalStatusApproved {
		c.recordDecision(ctx, req)
		return result, nil
	}

	updated, err := c.onboarding.ApplyStageChange(ctx, req.PartnerID, req.ToStage)
	if err != nil {
		return DecisionResult{}, c.undoApproval(ctx, req, err)
	}
	c.recordDecision(ctx, req)
	c.recordStageChanged(ctx, req.PartnerID, req.FromStage, req.ToStage, approvedBy, req.ID)
	result.Onboarding = &updated
	return result, nil
}

// undoApproval returns an approved request whose stage change failed to
// pending, so the decision can be retried. The returned error wraps
// applyErr.
func (c *Controller) undoApproval(ctx context.Context, req model.PartnerStageReversalRequest, applyErr error) error {
	fields := []zap.Field{
		zap.String("partner_id", req.PartnerID),
		zap.String("request_id", req.ID),
		zap.Stringer("to_stage", req.ToStage),
		zap.NamedError("apply_error", applyErr),
	}
	applyErr = fmt.Errorf("apply approved reversal %s: %w", req.ID, applyErr)
	if req.ApprovedAt == nil {
		c.logger.Error("approved reversal could not be applied", fields...)
		return applyErr
	}

	// The ledger call must not inherit a cancelled request context, or the
	// request would stay approved without its stage change.
	_, err := c.ledger.Reopen(context.WithoutCancel(ctx), req.ID, *req.ApprovedAt)
	if err != nil {
		c.logger.Error("approved reversal could not be applied or reopened",
			append(fields, zap.Error(err))...)
		return errors.Join(applyErr, fmt.Errorf("reopen reversal %s: %w", req.ID, err))
	}
	c.logger.Warn("approved reversal could not be applied; request reopened", fields...)
	return applyErr
}

// ToggleTask marks a checklist task done or not done.
func (c *Controller) ToggleTask(ctx context.Context, partnerID string, stage model.Stage, taskID string, completed bool, actor string) (rec model.PartnerOnboarding, err error) {
	ctx, done := c.observe(ctx, "toggle_task",
		observability.AttrPartnerID.String(partnerID),
		observability.AttrTaskID.String(taskID),
	)
	defer func() { done(err) }()

	rec, err = c.onboarding.ToggleTask(ctx, partnerID, stage, taskID, completed)
	if err != nil {
		return model.PartnerOnboarding{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordTaskToggle(stage.String(), completed)
	}
	c.appendEvent(ctx, model.OnboardingEvent{
		PartnerID: partnerID,
		Event:     model.EventTaskToggled,
		ActorID:   actorOrSystem(actor),
		ToStage:   &stage,
		Data: map[string]any{
			"task_id":      taskID,
			"completed":    completed,
			"stage_status": string(rec.Stages[stage].Status),
		},
	})
	return rec, nil
}

// UpdateStage changes a stage's status and/or assignee in one save and
// records an audit event per changed field.
func (c *Controller) UpdateStage(ctx context.Context, partnerID string, stage model.Stage, update onboarding.StageUpdate, actor string) (rec model.PartnerOnboarding, err error) {
	ctx, done := c.observe(ctx, "update_stage", observability.AttrPartnerID.String(partnerID))
	defer func() { done(err) }()

	rec, err = c.onboarding.UpdateStage(ctx, partnerID, stage, update)
	if err != nil {
		return model.PartnerOnboarding{}, err
	}
	if update.Status != nil {
		c.appendEvent(ctx, model.OnboardingEvent{
			PartnerID: partnerID,
			Event:     model.EventStageStatusSet,
			ActorID:   actorOrSystem(actor),
			ToStage:   &stage,
			Data:      map[string]any{"status": string(*update.Status)},
		})
	}
	if update.AssignedTo != nil {
		c.appendEvent(ctx, model.OnboardingEvent{
			PartnerID: partnerID,
			Event:     model.EventStageAssigned,
			ActorID:   actorOrSystem(actor),
			ToStage:   &stage,
			Data:      map[string]any{"assigned_to": rec.Stages[stage].AssignedTo},
		})
	}
	return rec, nil
}

// SetStageStatus overrides the status of a stage.
func (c *Controller) SetStageStatus(ctx context.Context, partnerID string, stage model.Stage, status model.StageStatus, actor string) (model.PartnerOnboarding, error) {
	return c.UpdateStage(ctx, partnerID, stage, onboarding.StageUpdate{Status: &status}, actor)
}

// AssignStage records who is responsible for a stage.
func (c *Controller) AssignStage(ctx context.Context, partnerID string, stage model.Stage, assignee, actor string) (model.PartnerOnboarding, error) {
	return c.UpdateStage(ctx, partnerID, stage, onboarding.StageUpdate{AssignedTo: &assignee}, actor)
}

// ListPendingApprovals returns reversal requests awaiting a decision,
// optionally for a single partner.
func (c *Controller) ListPendingApprovals(ctx context.Context, partnerID string) ([]model.PartnerStageReversalRequest, error) {
	return c.ledger.ListPending(ctx, partnerID)
}

// GetRequest returns a reversal request.
func (c *Controller) GetRequest(ctx context.Context, requestID string) (model.PartnerStageReversalRequest, error) {
	return c.ledger.Get(ctx, requestID)
}

// CommentOnRequest replaces the comments of a reversal request.
func (c *Controller) CommentOnRequest(ctx context.Context, requestID, comments, actor string) (model.PartnerStageReversalRequest, error) {
	req, err := c.ledger.Comment(ctx, requestID, comments)
	if err != nil {
		return model.PartnerStageReversalRequest{}, err
	}
	c.logger.Info("reversal request commented",
		zap.String("request_id", req.ID),
		zap.String("partner_id", req.PartnerID),
		zap.String("actor", actorOrSystem(actor)),
	)
	return req, nil
}

// History returns the audit trail of a partner, oldest first.
func (c *Controller) History(ctx context.Context, partnerID string, filters EventFilters) ([]model.OnboardingEvent, error) {
	if _, err := c.onboarding.Get(ctx, partnerID); err != nil {
		return nil, err
	}
	events, err := c.events.List(ctx, partnerID, filters)
	if err != nil {
		return nil, fmt.Errorf("history of partner %q: %w", partnerID, err)
	}
	return events, nil
}

// --- recording helpers ---

func (c *Controller) recordStageChanged(ctx context.Context, partnerID string, from, to model.Stage, actor, requestID string) {
	if c.metrics != nil {
		c.metrics.RecordStageChange(from.String(), to.String(), "applied")
	}
	c.appendEvent(ctx, model.OnboardingEvent{
		PartnerID: partnerID,
		Event:     model.EventStageChanged,
		ActorID:   actor,
		FromStage: &from,
		ToStage:   &to,
		RequestID: requestID,
	})
	c.logger.Info("stage changed",
		zap.String("partner_id", partnerID),
		zap.Stringer("from_stage", from),
		zap.Stringer("to_stage", to),
		zap.String("actor", actor),
	)
	c.deliver(ctx, notify.Notification{
		Event:     model.EventStageChanged,
		PartnerID: partnerID,
		RequestID: requestID,
		FromStage: &from,
		ToStage:   &to,
		Actor:     actor,
		Timestamp: c.now(),
	})
}

func (c *Controller) recordReversalRequested(ctx context.Context, req model.PartnerStageReversalRequest) {
	if c.metrics != nil {
		c.metrics.RecordStageChange(req.FromStage.String(), req.ToStage.String(), "pending_approval")
		c.metrics.RecordReversalRequested()
	}
	c.appendEvent(ctx, model.OnboardingEvent{
		PartnerID: req.PartnerID,
		Event:     model.EventReversalRequested,
		ActorID:   req.RequestedBy,
		FromStage: &req.FromStage,
		ToStage:   &req.ToStage,
		RequestID: req.ID,
		Comment:   req.Reason,
	})
	c.logger.Info("stage reversal submitted for approval",
		zap.String("partner_id", req.PartnerID),
		zap.String("request_id", req.ID),
		zap.Stringer("from_stage", req.FromStage),
		zap.Stringer("to_stage", req.ToStage),
		zap.String("requested_by", req.RequestedBy),
	)
	c.deliver(ctx, notify.Notification{
		Event:     model.EventReversalRequested,
		PartnerID: req.PartnerID,
		RequestID: req.ID,
		FromStage: &req.FromStage,
		ToStage:   &req.ToStage,
		Actor:     req.RequestedBy,
		Reason:    req.Reason,
		Timestamp: c.now(),
	})
}

func (c *Controller) recordDecision(ctx context.Context, req model.PartnerStageReversalRequest) {
	event := model.EventReversalDenied
	if req.Status == model.ReversalStatusApproved {
		event = model.EventReversalApproved
	}
	if c.metrics != nil && req.ApprovedAt != nil {
		c.metrics.RecordReversalDecision(string(req.Status), req.ApprovedAt.Sub(req.RequestedAt))
	}
	c.appendEvent(ctx, model.OnboardingEvent{
		PartnerID: req.PartnerID,
		Event:     event,
		ActorID:   req.ApprovedBy,
		FromStage: &req.FromStage,
		ToStage:   &req.ToStage,
		RequestID: req.ID,
		Comment:   req.Comments,
	})
	c.logger.Info("stage reversal decided",
		zap.String("partner_id", req.PartnerID),
		zap.String("request_id", req.ID),
		zap.String("decision", string(req.Status)),
		zap.String("approved_by", req.ApprovedBy),
	)
	c.deliver(ctx, notify.Notification{
		Event:     event,
		PartnerID: req.PartnerID,
		RequestID: req.ID,
		FromStage: &req.FromStage,
		ToStage:   &req.ToStage,
		Actor:     req.ApprovedBy,
		Comments:  req.Comments,
		Timestamp: c.now(),
	})
}

// appendEvent writes to the audit trail. The state change it describes is
// already committed, so a failed write is logged rather than returned.
func (c *Controller) appendEvent(ctx context.Context, event model.OnboardingEvent) {
	event.ID = uuid.New().String()
	event.Timestamp = c.now()
	if err := c.events.Append(ctx, event); err != nil {
		c.logger.Error("failed to append onboarding event",
			zap.String("partner_id", event.PartnerID),
			zap.String("event", event.Event),
			zap.Error(err),
		)
	}
}

// deliver sends a notification. Failures are logged and counted only.
func (c *Controller) deliver(ctx context.Context, n notify.Notification) {
	if c.notifier == nil {
		return
	}
	ctx, span := observability.StartSpan(ctx, "notify.deliver",
		observability.AttrPartnerID.String(n.PartnerID),
	)
	err := c.notifier.Notify(ctx, n)
	observability.EndSpanWithError(span, err)
	if err == nil {
		return
	}
	c.logger.Warn("notification delivery failed",
		zap.String("event", n.Event),
		zap.String("partner_id", n.PartnerID),
		zap.String("request_id", n.RequestID),
		zap.Error(err),
	)
	if c.metrics != nil {
		c.metrics.RecordNotificationFailure(n.Event)
	}
}

// observe starts a span for a controller operation and returns a function
// that ends it and records the operation's duration.
func (c *Controller) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		attrs = append(attrs, observability.AttrSubjectID.String(rctx.SubjectID))
	}
	ctx, span := observability.StartSpan(ctx, "workflow."+op, attrs...)
	return ctx, func(err error) {
		observability.EndSpanWithError(span, err)
		if c.metrics != nil {
			c.metrics.RecordOperation(op, statusOf(err), time.Since(start))
		}
	}
}

func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return strings.ToLower(env.Code)
	}
	return "error"
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return systemActor
	}
	return actor
}
