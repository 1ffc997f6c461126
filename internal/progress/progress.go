// Package progress derives completion percentages from onboarding state.
// Nothing in this package mutates its inputs.
package progress

import (
	"math"

	"github.com/pitabwire/partnerhub/model"
)

// maxOpenStageShare caps the contribution of a current stage that is not the
// completed terminal stage, so that reaching the next stage always increases
// overall progress and 100 is only reported for a completed onboarding.
const maxOpenStageShare = 99

// StageProgress returns the completion percentage of a single stage.
func StageProgress(sd model.OnboardingStageData) int {
	switch sd.Status {
	case model.StageStatusCompleted:
		return 100
	case model.StageStatusPending:
		return 0
	}
	total := len(sd.Tasks)
	if total == 0 {
		return 0
	}
	done := 0
	for _, t := range sd.Tasks {
		if t.Completed {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// OverallProgress returns the partner-level progress in [0,100], rounded to
// two decimals. Stages before current count fully, the current stage counts
// by its StageProgress and later stages count nothing.
func OverallProgress(stages model.StageSet, current model.Stage) float64 {
	if !current.Valid() {
		return 0
	}
	cur := stages[current]
	share := float64(StageProgress(cur))
	if !(current == model.StageOnboarded && cur.Status == model.StageStatusCompleted) {
		share = math.Min(share, maxOpenStageShare)
	}

	total := (float64(current)*100 + share) / model.StageCount
	total = math.Round(total*100) / 100
	return math.Max(0, math.Min(100, total))
}
