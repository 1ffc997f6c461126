// Package catalog is the static definition of the onboarding stages: their
// order, display metadata and the default checklist a partner starts with.
package catalog

import "github.com/pitabwire/partnerhub/model"

// StageMetadata describes a stage for display.
type StageMetadata struct {
	Stage       model.Stage `json:"stage"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
}

// taskTemplate is the static form of a default checklist item.
type taskTemplate struct {
	id          string
	title       string
	description string
	required    bool
}

type stageDefinition struct {
	meta  StageMetadata
	tasks []taskTemplate
}

var definitions = [model.StageCount]stageDefinition{
	model.StageOutreach: {
		meta: StageMetadata{
			Stage:       model.StageOutreach,
			Title:       "Outreach",
			Description: "Initial contact and qualification of the prospective partner.",
		},
		tasks: []taskTemplate{
			{"initial-contact", "Initial contact", "Reach the partner's primary contact.", true},
			{"qualification-call", "Qualification call", "Confirm fit, market and target segment.", true},
			{"share-intro-deck", "Share introduction deck", "", false},
		},
	},
	model.StageProductOverview: {
		meta: StageMetadata{
			Stage:       model.StageProductOverview,
			Title:       "Product Overview",
			Description: "Walk the partner through the product portfolio.",
		},
		tasks: []taskTemplate{
			{"product-demo", "Product demo", "Run the product demonstration session.", true},
			{"technical-qa", "Technical Q&A", "Answer integration and deployment questions.", false},
		},
	},
	model.StagePartnerProgram: {
		meta: StageMetadata{
			Stage:       model.StagePartnerProgram,
			Title:       "Partner Program",
			Description: "Agree on program tier, margins and enablement plan.",
		},
		tasks: []taskTemplate{
			{"program-tier", "Select program tier", "", true},
			{"enablement-plan", "Enablement plan", "Schedule sales and technical enablement.", true},
			{"portal-access", "Partner portal access", "", false},
		},
	},
	model.StageKYC: {
		meta: StageMetadata{
			Stage:       model.StageKYC,
			Title:       "KYC",
			Description: "Know-your-customer verification of the partner entity.",
		},
		tasks: []taskTemplate{
			{"company-registration", "Company registration documents", "", true},
			{"beneficial-owners", "Beneficial owner verification", "", true},
			{"sanctions-screening", "Sanctions screening", "", true},
		},
	},
	model.StageAgreement: {
		meta: StageMetadata{
			Stage:       model.StageAgreement,
			Title:       "Agreement",
			Description: "Negotiate and sign the partner agreement.",
		},
		tasks: []taskTemplate{
			{"draft-agreement", "Draft agreement", "", true},
			{"legal-review", "Legal review", "", true},
			{"countersignature", "Countersignature", "", true},
		},
	},
	model.StageOnboarded: {
		meta: StageMetadata{
			Stage:       model.StageOnboarded,
			Title:       "Onboarded",
			Description: "The partner is fully active.",
		},
		tasks: []taskTemplate{
			{"welcome-kit", "Send welcome kit", "", true},
			{"first-deal-registration", "First deal registration", "", false},
		},
	},
}

// OrderedStages returns every stage in catalog order.
func OrderedStages() []model.Stage {
	out := make([]model.Stage, model.StageCount)
	for i := range out {
		out[i] = model.Stage(i)
	}
	return out
}

// Metadata returns the display metadata for s.
func Metadata(s model.Stage) StageMetadata {
	if !s.Valid() {
		return StageMetadata{Stage: s, Title: s.String()}
	}
	return definitions[s].meta
}

// Stages returns the metadata of every stage in catalog order.
func Stages() []StageMetadata {
	out := make([]StageMetadata, 0, model.StageCount)
	for _, s := range OrderedStages() {
		out = append(out, definitions[s].meta)
	}
	return out
}

// DefaultTasks returns a fresh copy of the default checklist of s.
func DefaultTasks(s model.Stage) []model.OnboardingTask {
	if !s.Valid() {
		return nil
	}
	tmpl := definitions[s].tasks
	tasks := make([]model.OnboardingTask, len(tmpl))
	for i, t := range tmpl {
		tasks[i] = model.OnboardingTask{
			ID:          t.id,
			Title:       t.title,
			Description: t.description,
			Required:    t.required,
		}
	}
	return tasks
}
