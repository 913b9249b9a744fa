// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// EligibilityStatus is the categorical outcome of scoring one trial.
type EligibilityStatus string

const (
	Eligible            EligibilityStatus = "ELIGIBLE"
	PotentiallyEligible EligibilityStatus = "POTENTIALLY_ELIGIBLE"
	Ineligible          EligibilityStatus = "INELIGIBLE"
	RequiresReview      EligibilityStatus = "REQUIRES_REVIEW"
)

// Valid reports whether s is one of the four known statuses.
func (s EligibilityStatus) Valid() bool {
	switch s {
	case Eligible, PotentiallyEligible, Ineligible, RequiresReview:
		return true
	}
	return false
}

// Severity grades a drug-interaction finding.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from LOW (0) to CRITICAL (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityModerate:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Verdict is a boolean sub-check result with its explanation.
type Verdict struct {
	Eligible bool   `json:"eligible" yaml:"eligible"`
	Reason   string `json:"reason" yaml:"reason"`
}

// LocationVerdict extends Verdict with the sites the patient could use.
type LocationVerdict struct {
	Verdict            `yaml:",inline"`
	AvailableLocations []string `json:"available_locations" yaml:"available_locations"`
}

// DrugInteraction is one drug-safety finding relevant to a trial.
type DrugInteraction struct {
	Drug          string   `json:"drug" yaml:"drug"`
	InteractsWith string   `json:"interacts_with,omitempty" yaml:"interacts_with,omitempty"`
	Severity      Severity `json:"severity" yaml:"severity"`
	Description   string   `json:"description" yaml:"description"`
}

// EligibilityAssessment is the scored result for one CandidateTrial.
type EligibilityAssessment struct {
	TrialID string            `json:"trial_id" yaml:"trial_id"`
	Status  EligibilityStatus `json:"status" yaml:"status"`
	Score   float64           `json:"score" yaml:"score"`

	InclusionMatches   []string `json:"inclusion_matches" yaml:"inclusion_matches"`
	ExclusionConflicts []string `json:"exclusion_conflicts" yaml:"exclusion_conflicts"`

	Age        Verdict         `json:"age" yaml:"age"`
	Location   LocationVerdict `json:"location" yaml:"location"`
	Medication Verdict         `json:"medication" yaml:"medication"`
	Biomarker  Verdict         `json:"biomarker" yaml:"biomarker"`

	DrugInteractions []DrugInteraction `json:"drug_interactions" yaml:"drug_interactions"`
	Reasoning        string            `json:"reasoning" yaml:"reasoning"`
	Recommendations  []string          `json:"recommendations" yaml:"recommendations"`
	SafetyFlags      []string          `json:"safety_flags" yaml:"safety_flags"`

	// ReviewerOverride is set when a reviewer changed Status.
	ReviewerOverride bool `json:"reviewer_override,omitempty" yaml:"reviewer_override,omitempty"`
}

// HasExclusionConflict reports whether any exclusion line matched.
func (a EligibilityAssessment) HasExclusionConflict() bool {
	return len(a.ExclusionConflicts) > 0
}

// EligibilitySummary aggregates a run's assessments.
type EligibilitySummary struct {
	Total          int                       `json:"total" yaml:"total"`
	StatusCounts   map[EligibilityStatus]int `json:"status_counts" yaml:"status_counts"`
	AverageScore   float64                   `json:"average_score" yaml:"average_score"`
	TopTrialIDs    []string                  `json:"top_trial_ids" yaml:"top_trial_ids"`
	SafetyConcerns []string                  `json:"safety_concerns" yaml:"safety_concerns"`
}
