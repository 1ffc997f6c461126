// Package onboarding owns the per-partner onboarding records: creation with
// the default checklists, stage changes, task toggles and progress upkeep.
package onboarding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/partnerhub/internal/catalog"
	"github.com/pitabwire/partnerhub/internal/progress"
	"github.com/pitabwire/partnerhub/model"
)

// maxSaveAttempts bounds how often a mutation is re-applied to a freshly
// loaded record after an optimistic locking conflict.
const maxSaveAttempts = 3

// Service applies state changes to onboarding records held in a Store.
type Service struct {
	store            Store
	now              func() time.Time
	expectedDuration time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithExpectedDuration sets the duration added to the start time to compute
// the expected completion date of new onboardings. Zero leaves it unset.
func WithExpectedDuration(d time.Duration) ServiceOption {
	return func(s *Service) { s.expectedDuration = d }
}

// NewService creates a Service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the onboarding record of a partner.
func (s *Service) Get(ctx context.Context, partnerID string) (model.PartnerOnboarding, error) {
	if err := validatePartnerID(partnerID); err != nil {
		return model.PartnerOnboarding{}, err
	}
	return s.store.Load(ctx, partnerID)
}

// Initialize creates the onboarding record of a partner. Every stage starts
// pending with its default checklist, except outreach which starts in progress.
func (s *Service) Initialize(ctx context.Context, partnerID string) (model.PartnerOnboarding, error) {
	if err := validatePartnerID(partnerID); err != nil {
		return model.PartnerOnboarding{}, err
	}

	now := s.now()
	rec := model.PartnerOnboarding{
		PartnerID:    partnerID,
		CurrentStage: model.StageOutreach,
		StartedAt:    now,
		LastActivity: now,
		Version:      1,
	}
	if s.expectedDuration > 0 {
		due := now.Add(s.expectedDuration)
		rec.ExpectedCompletionDate = &due
	}
	for _, stage := range catalog.OrderedStages() {
		rec.Stages[stage] = model.OnboardingStageData{
			Stage:  stage,
			Status: model.StageStatusPending,
			Tasks:  catalog.DefaultTasks(stage),
		}
	}
	first := rec.Stages.Get(model.StageOutreach)
	first.Status = model.StageStatusInProgress
	first.StartedAt = timePtr(now)
	rec.OverallProgress = progress.OverallProgress(rec.Stages, rec.CurrentStage)

	if err := s.store.Create(ctx, rec); err != nil {
		return model.PartnerOnboarding{}, err
	}
	return rec, nil
}

// ApplyStageChange moves a partner to newStage without any policy check.
// Every earlier stage is completed, the new stage is started unless it is
// already completed and later stages are left as they are.
func (s *Service) ApplyStageChange(ctx context.Context, partnerID string, newStage model.Stage) (model.PartnerOnboarding, error) {
	if !newStage.Valid() {
		return model.PartnerOnboarding{}, model.NewFieldValidationError("stage", fmt.Sprintf("unknown onboarding stage %d", int(newStage)))
	}

	return s.mutate(ctx, partnerID, func(rec *model.PartnerOnboarding, now time.Time) error {
		for stage := model.StageOutreach; stage < newStage; stage++ {
			completeStage(rec.Stages.Get(stage), now)
		}

		target := rec.Stages.Get(newStage)
		if target.Status != model.StageStatusCompleted {
			target.Status = model.StageStatusInProgress
			if target.StartedAt == nil {
				target.StartedAt = timePtr(now)
			}
		}
		rec.CurrentStage = newStage
		return nil
	})
}

// ToggleTask sets the completion flag of one task and re-derives the status
// of its stage.
func (s *Service) ToggleTask(ctx context.Context, partnerID string, stage model.Stage, taskID string, completed bool) (model.PartnerOnboarding, error) {
	if !stage.Valid() {
		return model.PartnerOnboarding{}, model.NewFieldValidationError("stage", fmt.Sprintf("unknown onboarding stage %d", int(stage)))
	}
	if strings.TrimSpace(taskID) == "" {
		return model.PartnerOnboarding{}, model.NewRequiredFieldError("task_id")
	}

	return s.mutate(ctx, partnerID, func(rec *model.PartnerOnboarding, now time.Time) error {
		sd := rec.Stages.Get(stage)
		task := sd.Task(taskID)
		if task == nil {
			return model.NewNotFoundError(
				fmt.Sprintf("task %q not found in stage %s of partner %q", taskID, stage, partnerID),
			)
		}

		task.Completed = completed
		if completed {
			task.CompletedAt = timePtr(now)
		} else {
			task.CompletedAt = nil
		}
		deriveStageStatus(sd, now)
		return nil
	})
}

// StageUpdate is a partial update of one stage. Nil fields are left as
// they are.
type StageUpdate struct {
	Status     *model.StageStatus
	AssignedTo *string
}

// UpdateStage applies every field of update to the stage in a single save,
// so a partially applied update is never persisted. Setting the status to
// completed also completes the stage's required tasks. An empty assignee
// clears the assignment.
func (s *Service) UpdateStage(ctx context.Context, partnerID string, stage model.Stage, update StageUpdate) (model.PartnerOnboarding, error) {
	if !stage.Valid() {
		return model.PartnerOnboarding{}, model.NewFieldValidationError("stage", fmt.Sprintf("unknown onboarding stage %d", int(stage)))
	}
	if update.Status == nil && update.AssignedTo == nil {
		return model.PartnerOnboarding{}, model.NewFieldValidationError("status", "status or assigned_to is required")
	}
	if update.Status != nil && !update.Status.Valid() {
		return model.PartnerOnboarding{}, model.NewFieldValidationError("status", fmt.Sprintf("unknown stage status %q", *update.Status))
	}

	return s.mutate(ctx, partnerID, func(rec *model.PartnerOnboarding, now time.Time) error {
		sd := rec.Stages.Get(stage)
		if update.Status != nil {
			setStatus(sd, *update.Status, now)
		}
		if update.AssignedTo != nil {
			sd.AssignedTo = strings.TrimSpace(*update.AssignedTo)
		}
		return nil
	})
}

// SetStageStatus overrides the status of a stage, e.g. to block or unblock it.
func (s *Service) SetStageStatus(ctx context.Context, partnerID string, stage model.Stage, status model.StageStatus) (model.PartnerOnboarding, error) {
	return s.UpdateStage(ctx, partnerID, stage, StageUpdate{Status: &status})
}

// AssignStage records the user responsible for a stage.
func (s *Service) AssignStage(ctx context.Context, partnerID string, stage model.Stage, assignee string) (model.PartnerOnboarding, error) {
	return s.UpdateStage(ctx, partnerID, stage, StageUpdate{AssignedTo: &assignee})
}

func setStatus(sd *model.OnboardingStageData, status model.StageStatus, now time.Time) {
	switch status {
	case model.StageStatusCompleted:
		completeStage(sd, now)
	case model.StageStatusInProgress:
		if sd.StartedAt == nil {
			sd.StartedAt = timePtr(now)
		}
		fallthrough
	default:
		sd.Status = status
		sd.CompletedAt = nil
	}
}

// mutate loads the record, applies fn, refreshes the derived fields and saves
// it. On a version conflict the record is reloaded and fn is applied again.
func (s *Service) mutate(ctx context.Context, partnerID string, fn func(*model.PartnerOnboarding, time.Time) error) (model.PartnerOnboarding, error) {
	if err := validatePartnerID(partnerID); err != nil {
		return model.PartnerOnboarding{}, err
	}

	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		rec, err := s.store.Load(ctx, partnerID)
		if err != nil {
			return model.PartnerOnboarding{}, err
		}

		now := s.now()
		if err := fn(&rec, now); err != nil {
			return model.PartnerOnboarding{}, err
		}
		rec.LastActivity = now
		rec.OverallProgress = progress.OverallProgress(rec.Stages, rec.CurrentStage)

		err = s.store.Save(ctx, rec)
		if err == nil {
			rec.Version++
			return rec, nil
		}
		if !model.IsCode(err, model.ErrConflict) {
			return model.PartnerOnboarding{}, err
		}
		lastErr = err
	}
	return model.PartnerOnboarding{}, lastErr
}

// completeStage marks a stage completed along with all its required tasks.
func completeStage(sd *model.OnboardingStageData, now time.Time) {
	for i := range sd.Tasks {
		t := &sd.Tasks[i]
		if t.Required && !t.Completed {
			t.Completed = true
			t.CompletedAt = timePtr(now)
		}
	}
	if sd.StartedAt == nil {
		sd.StartedAt = timePtr(now)
	}
	if sd.Status != model.StageStatusCompleted || sd.CompletedAt == nil {
		sd.CompletedAt = timePtr(now)
	}
	sd.Status = model.StageStatusCompleted
}

// deriveStageStatus recomputes a stage's status after a task changed.
func deriveStageStatus(sd *model.OnboardingStageData, now time.Time) {
	switch {
	case sd.HasRequiredTasks() && sd.RequiredTasksDone():
		completeStage(sd, now)
	case sd.Status == model.StageStatusCompleted:
		sd.Status = model.StageStatusInProgress
		sd.CompletedAt = nil
	case sd.Status == model.StageStatusPending && anyTaskCompleted(sd):
		sd.Status = model.StageStatusInProgress
		if sd.StartedAt == nil {
			sd.StartedAt = timePtr(now)
		}
	}
}

func anyTaskCompleted(sd *model.OnboardingStageData) bool {
	for _, t := range sd.Tasks {
		if t.Completed {
			return true
		}
	}
	return false
}

func validatePartnerID(partnerID string) error {
	if strings.TrimSpace(partnerID) == "" {
		return model.NewRequiredFieldError("partner_id")
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
