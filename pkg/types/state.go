// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// StateVersion is the persisted PipelineRunState format. Stores reject
// states carrying any other version.
const StateVersion = 1

// RunStatus is the orchestrator state of one run.
type RunStatus string

const (
	RunCreated            RunStatus = "created"
	RunAnalyzingProfile   RunStatus = "analyzing_profile"
	RunDiscoveringTrials  RunStatus = "discovering_trials"
	RunScoringEligibility RunStatus = "scoring_eligibility"
	RunAwaitingReview     RunStatus = "awaiting_review"
	RunGeneratingReport   RunStatus = "generating_report"
	RunCompleted          RunStatus = "completed"
	RunFailed             RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunOptions are the per-run knobs a caller may set.
type RunOptions struct {
	MaxTrials        int  `json:"max_trials,omitempty" yaml:"max_trials,omitempty"`
	MaxLiterature    int  `json:"max_literature,omitempty" yaml:"max_literature,omitempty"`
	IncludeCompleted bool `json:"include_completed,omitempty" yaml:"include_completed,omitempty"`
	RequireReview    bool `json:"require_review,omitempty" yaml:"require_review,omitempty"`
}

// RunInput is what a caller submits to start a run.
type RunInput struct {
	PatientText  string        `json:"patient_text" yaml:"patient_text"`
	Demographics *Demographics `json:"demographics,omitempty" yaml:"demographics,omitempty"`
	Options      RunOptions    `json:"options" yaml:"options"`
}

// StageOutcome is the status recorded in a stage's metadata.
type StageOutcome string

const (
	StageCompleted StageOutcome = "completed"
	StageFailed    StageOutcome = "failed"
	StageSkipped   StageOutcome = "skipped"
	StageSuspended StageOutcome = "suspended"
)

// StageMetadata records one stage execution.
type StageMetadata struct {
	Name      string        `json:"name" yaml:"name"`
	Outcome   StageOutcome  `json:"outcome" yaml:"outcome"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Attempts  int           `json:"attempts" yaml:"attempts"`

	// Counts holds stage-specific tallies (e.g. trials_found, fallback_used).
	Counts   map[string]int `json:"counts,omitempty" yaml:"counts,omitempty"`
	Warnings []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// ReviewAction is a reviewer's decision verb.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewModify  ReviewAction = "modify"
	ReviewReject  ReviewAction = "reject"
)

// ReviewRecord is the reviewer decision stored on the run.
type ReviewRecord struct {
	Action          ReviewAction                 `json:"action" yaml:"action"`
	Reviewer        string                       `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Notes           string                       `json:"notes,omitempty" yaml:"notes,omitempty"`
	StatusOverrides map[string]EligibilityStatus `json:"status_overrides,omitempty" yaml:"status_overrides,omitempty"`
	ExcludedTrials  []string                     `json:"excluded_trials,omitempty" yaml:"excluded_trials,omitempty"`
	RequestedAt     time.Time                    `json:"requested_at" yaml:"requested_at"`
	DecidedAt       time.Time                    `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`
}

// FailureInfo describes why a run ended in RunFailed.
type FailureInfo struct {
	Stage   string `json:"stage" yaml:"stage"`
	Kind    string `json:"kind" yaml:"kind"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// PipelineRunState is the accumulated, serializable record of one run.
// Stages receive a copy and return an augmented copy; only the orchestrator
// commits it.
type PipelineRunState struct {
	Version int       `json:"version" yaml:"version"`
	RunID   string    `json:"run_id" yaml:"run_id"`
	Status  RunStatus `json:"status" yaml:"status"`
	Input   RunInput  `json:"input" yaml:"input"`

	Profile     *PatientProfile         `json:"profile,omitempty" yaml:"profile,omitempty"`
	Trials      []CandidateTrial        `json:"trials,omitempty" yaml:"trials,omitempty"`
	Assessments []EligibilityAssessment `json:"assessments,omitempty" yaml:"assessments,omitempty"`
	Summary     *EligibilitySummary     `json:"summary,omitempty" yaml:"summary,omitempty"`
	Review      *ReviewRecord           `json:"review,omitempty" yaml:"review,omitempty"`
	Report      *ClinicalReport         `json:"report,omitempty" yaml:"report,omitempty"`

	Stages             []StageMetadata `json:"stages" yaml:"stages"`
	APICalls           map[string]int  `json:"api_calls" yaml:"api_calls"`
	CacheHits          map[string]int  `json:"cache_hits" yaml:"cache_hits"`
	MissingEnrichments []string        `json:"missing_enrichments,omitempty" yaml:"missing_enrichments,omitempty"`
	Failure            *FailureInfo    `json:"failure,omitempty" yaml:"failure,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep-enough copy for a stage to augment without touching
// the committed state. Nested trial and assessment slices are copied; their
// string slices are shared and must be treated as read-only.
func (s *PipelineRunState) Clone() *PipelineRunState {
	c := *s
	if s.Profile != nil {
		p := *s.Profile
		c.Profile = &p
	}
	c.Trials = append([]CandidateTrial(nil), s.Trials...)
	c.Assessments = append([]EligibilityAssessment(nil), s.Assessments...)
	if s.Summary != nil {
		sum := *s.Summary
		c.Summary = &sum
	}
	if s.Review != nil {
		r := *s.Review
		c.Review = &r
	}
	c.Stages = append([]StageMetadata(nil), s.Stages...)
	c.MissingEnrichments = append([]string(nil), s.MissingEnrichments...)
	c.APICalls = copyCounts(s.APICalls)
	c.CacheHits = copyCounts(s.CacheHits)
	return &c
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AssessmentFor returns the assessment for a trial id, or nil.
func (s *PipelineRunState) AssessmentFor(trialID string) *EligibilityAssessment {
	for i := range s.Assessments {
		if s.Assessments[i].TrialID == trialID {
			return &s.Assessments[i]
		}
	}
	return nil
}

// ReportTrial is one ranked trial in the final report.
type ReportTrial struct {
	Trial       CandidateTrial        `json:"trial" yaml:"trial"`
	Assessment  EligibilityAssessment `json:"assessment" yaml:"assessment"`
	DropoutRisk *float64              `json:"dropout_risk,omitempty" yaml:"dropout_risk,omitempty"`
}

// WorkflowMetadata summarizes how a run executed.
type WorkflowMetadata struct {
	RunID         string          `json:"run_id" yaml:"run_id"`
	Status        RunStatus       `json:"status" yaml:"status"`
	TotalDuration time.Duration   `json:"total_duration" yaml:"total_duration"`
	Stages        []StageMetadata `json:"stages" yaml:"stages"`
	APICalls      map[string]int  `json:"api_calls" yaml:"api_calls"`
	CacheHits     map[string]int  `json:"cache_hits" yaml:"cache_hits"`
}

// ClinicalReport is the final assembled output of a completed run.
type ClinicalReport struct {
	RunID              string             `json:"run_id" yaml:"run_id"`
	GeneratedAt        time.Time          `json:"generated_at" yaml:"generated_at"`
	Profile            PatientProfile     `json:"profile" yaml:"profile"`
	Trials             []ReportTrial      `json:"trials" yaml:"trials"`
	Summary            EligibilitySummary `json:"summary" yaml:"summary"`
	Review             *ReviewRecord      `json:"review,omitempty" yaml:"review,omitempty"`
	MissingEnrichments []string           `json:"missing_enrichments,omitempty" yaml:"missing_enrichments,omitempty"`
	Workflow           WorkflowMetadata   `json:"workflow" yaml:"workflow"`
	Markdown           string             `json:"markdown,omitempty" yaml:"markdown,omitempty"`
	HTML               string             `json:"html,omitempty" yaml:"html,omitempty"`
}
