// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// next lists the legal successors of each non-terminal status. Failed is
// reachable from every non-terminal status and is not listed.
var next = map[types.RunStatus]types.RunStatus{
	types.RunCreated:            types.RunAnalyzingProfile,
	types.RunAnalyzingProfile:   types.RunDiscoveringTrials,
	types.RunDiscoveringTrials:  types.RunScoringEligibility,
	types.RunScoringEligibility: types.RunAwaitingReview,
	types.RunAwaitingReview:     types.RunGeneratingReport,
	types.RunGeneratingReport:   types.RunCompleted,
}

// ErrIllegalTransition reports a status change the state machine forbids.
type ErrIllegalTransition struct {
	From, To types.RunStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to types.RunStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == types.RunFailed {
		return true
	}
	return next[from] == to
}

func transition(s *types.PipelineRunState, to types.RunStatus) error {
	if !CanTransition(s.Status, to) {
		return &ErrIllegalTransition{From: s.Status, To: to}
	}
	s.Status = to
	return nil
}

// validate checks a stage's output before its transition is committed.
func validate(stage types.RunStatus, s *types.PipelineRunState) error {
	switch stage {
	case types.RunAnalyzingProfile:
		p := s.Profile
		if p == nil {
			return failure.Validation("profile missing")
		}
		if p.Age < 1 || p.Age > 120 {
			return failure.Validation("profile age %d out of range", p.Age)
		}
		if p.Diagnosis == "" {
			return failure.Validation("profile diagnosis empty")
		}
	case types.RunDiscoveringTrials:
		if s.Trials == nil {
			return failure.Validation("trial list missing")
		}
		seen := map[string]bool{}
		for _, t := range s.Trials {
			if t.ID == "" {
				return failure.Validation("trial without registry id")
			}
			if seen[t.ID] {
				return failure.Validation("duplicate trial %s", t.ID)
			}
			seen[t.ID] = true
		}
	case types.RunScoringEligibility:
		if len(s.Assessments) != len(s.Trials) {
			return failure.Validation("%d assessments for %d trials", len(s.Assessments), len(s.Trials))
		}
		for i, a := range s.Assessments {
			if a.TrialID != s.Trials[i].ID {
				return failure.Validation("assessment %d is for %s, want %s", i, a.TrialID, s.Trials[i].ID)
			}
			if a.Score < 0 || a.Score > 1 {
				return failure.Validation("trial %s score %.2f outside [0,1]", a.TrialID, a.Score)
			}
			if !a.Status.Valid() {
				return failure.Validation("trial %s has invalid status %q", a.TrialID, a.Status)
			}
		}
		if s.Summary == nil {
			return failure.Validation("eligibility summary missing")
		}
	case types.RunGeneratingReport:
		if s.Report == nil {
			return failure.Validation("report missing")
		}
	}
	return nil
}
