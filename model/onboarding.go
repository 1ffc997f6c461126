package model

import (
	"fmt"
	"time"
)

// Stage is one of the six ordered onboarding stages. The zero value is
// StageOutreach and the numeric value is the stage's position in the
// catalog, so comparisons between stages compare catalog order.
type Stage int

// Onboarding stages in catalog order.
const (
	StageOutreach Stage = iota
	StageProductOverview
	StagePartnerProgram
	StageKYC
	StageAgreement
	StageOnboarded
)

// StageCount is the number of onboarding stages.
const StageCount = 6

var stageNames = [StageCount]string{
	"outreach",
	"product-overview",
	"partner-program",
	"kyc",
	"agreement",
	"onboarded",
}

// String returns the wire name of the stage.
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is one of the catalog stages.
func (s Stage) Valid() bool {
	return s >= StageOutreach && s <= StageOnboarded
}

// Before reports whether s precedes other in catalog order.
func (s Stage) Before(other Stage) bool {
	return s < other
}

// ParseStage converts a wire name into a Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, NewFieldValidationError("stage", fmt.Sprintf("unknown onboarding stage %q", name))
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid onboarding stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StageStatus is the lifecycle status of a single stage for a partner.
type StageStatus string

// Stage status constants.
const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in-progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusBlocked    StageStatus = "blocked"
)

// Valid reports whether st is a known status.
func (st StageStatus) Valid() bool {
	switch st {
	case StageStatusPending, StageStatusInProgress, StageStatusCompleted, StageStatusBlocked:
		return true
	}
	return false
}

// OnboardingTask is a checklist item owned by exactly one stage.
type OnboardingTask struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	Required    bool       `json:"required"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

// OnboardingStageData is the per-partner state of one stage.
type OnboardingStageData struct {
	Stage       Stage            `json:"stage"`
	Status      StageStatus      `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	AssignedTo  string           `json:"assigned_to,omitempty"`
	Tasks       []OnboardingTask `json:"tasks"`
}

// Task returns a pointer to the task with the given ID, or nil.
func (sd *OnboardingStageData) Task(taskID string) *OnboardingTask {
	for i := range sd.Tasks {
		if sd.Tasks[i].ID == taskID {
			return &sd.Tasks[i]
		}
	}
	return nil
}

// RequiredTasksDone reports whether every required task is completed.
func (sd *OnboardingStageData) RequiredTasksDone() bool {
	for _, t := range sd.Tasks {
		if t.Required && !t.Completed {
			return false
		}
	}
	return true
}

// HasRequiredTasks reports whether the stage has at least one required task.
func (sd *OnboardingStageData) HasRequiredTasks() bool {
	for _, t := range sd.Tasks {
		if t.Required {
			return true
		}
	}
	return false
}

// StageSet holds the data of every stage, indexed by Stage. Being a fixed
// size array, every stage is always present.
type StageSet [StageCount]OnboardingStageData

// Get returns a pointer to the data of stage s.
func (ss *StageSet) Get(s Stage) *OnboardingStageData {
	return &ss[s]
}

// PartnerOnboarding is the onboarding record of a single partner.
type PartnerOnboarding struct {
	PartnerID              string     `json:"partner_id"`
	CurrentStage           Stage      `json:"current_stage"`
	OverallProgress        float64    `json:"overall_progress"`
	StartedAt              time.Time  `json:"started_at"`
	ExpectedCompletionDate *time.Time `json:"expected_completion_date,omitempty"`
	LastActivity           time.Time  `json:"last_activity"`
	Stages                 StageSet   `json:"stages"`
	Version                int        `json:"version"`
}

// Clone returns a deep copy so callers cannot mutate stored records through
// shared task slices or timestamps.
func (p PartnerOnboarding) Clone() PartnerOnboarding {
	out := p
	out.ExpectedCompletionDate = cloneTime(p.ExpectedCompletionDate)
	for i := range p.Stages {
		sd := p.Stages[i]
		sd.StartedAt = cloneTime(sd.StartedAt)
		sd.CompletedAt = cloneTime(sd.CompletedAt)
		if sd.Tasks != nil {
			tasks := make([]OnboardingTask, len(sd.Tasks))
			for j, t := range sd.Tasks {
				t.CompletedAt = cloneTime(t.CompletedAt)
				tasks[j] = t
			}
			sd.Tasks = tasks
		}
		out.Stages[i] = sd
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
