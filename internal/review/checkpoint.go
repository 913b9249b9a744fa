// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package review implements the human review checkpoint: a durable pause
// after eligibility scoring that only an explicit reviewer decision ends.
package review

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/eligibility"
	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/store"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// ErrNotAwaitingReview is returned when a decision targets a run that is
// not suspended at the checkpoint.
var ErrNotAwaitingReview = errors.New("run is not awaiting review")

// Decision is the external signal that resumes a suspended run.
type Decision struct {
	Action          types.ReviewAction                 `json:"action" yaml:"action"`
	Reviewer        string                             `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Notes           string                             `json:"notes,omitempty" yaml:"notes,omitempty"`
	StatusOverrides map[string]types.EligibilityStatus `json:"status_overrides,omitempty" yaml:"status_overrides,omitempty"`
	ExcludeTrials   []string                           `json:"exclude_trials,omitempty" yaml:"exclude_trials,omitempty"`
}

// Validate checks d against the suspended state. Only modify may carry
// overrides or exclusions, and every trial id must be one the run assessed.
func (d Decision) Validate(state *types.PipelineRunState) error {
	changes := len(d.StatusOverrides) + len(d.ExcludeTrials)
	switch d.Action {
	case types.ReviewApprove, types.ReviewReject:
		if changes > 0 {
			return failure.Validation("%s decision cannot carry status overrides or exclusions", d.Action)
		}
	case types.ReviewModify:
		if changes == 0 {
			return failure.Validation("modify decision needs status overrides or exclusions")
		}
	default:
		return failure.Validation("unknown review action %q", d.Action)
	}
	for id, st := range d.StatusOverrides {
		if state.AssessmentFor(id) == nil {
			return failure.Validation("override for unknown trial %s", id)
		}
		if !st.Valid() {
			return failure.Validation("invalid status %q for trial %s", st, id)
		}
	}
	for _, id := range d.ExcludeTrials {
		if state.AssessmentFor(id) == nil {
			return failure.Validation("exclusion of unknown trial %s", id)
		}
	}
	return nil
}

// Checkpoint suspends runs for review and applies decisions.
type Checkpoint struct {
	enabled bool
	topN    int
	store   store.Store
	logger  *zap.Logger
	now     func() time.Time
}

// NewCheckpoint returns a checkpoint. When enabled is false, runs are still
// suspended if their options request review.
func NewCheckpoint(enabled bool, topN int, st store.Store, logger *zap.Logger) *Checkpoint {
	if topN <= 0 {
		topN = eligibility.DefaultTopN
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpoint{enabled: enabled, topN: topN, store: st, logger: logger, now: time.Now}
}

// Required reports whether a run with opts pauses at the checkpoint.
func (c *Checkpoint) Required(opts types.RunOptions) bool {
	return c.enabled || opts.RequireReview
}

// Enter stamps the review request on a state already in awaiting_review and
// persists it. The returned state is what the reviewer sees.
func (c *Checkpoint) Enter(ctx context.Context, state *types.PipelineRunState) (*types.PipelineRunState, error) {
	if state.Status != types.RunAwaitingReview {
		return nil, fmt.Errorf("entering review from %s: %w", state.Status, ErrNotAwaitingReview)
	}
	next := state.Clone()
	now := c.now().UTC()
	next.Review = &types.ReviewRecord{RequestedAt: now}
	next.UpdatedAt = now
	if err := c.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting suspended run: %w", err)
	}
	c.logger.Info("run suspended for review",
		zap.String("run_id", next.RunID),
		zap.Int("assessments", len(next.Assessments)))
	return next, nil
}

// Apply validates d and returns a copy of state carrying the decision. A
// modify decision drops excluded trials, overrides statuses and recomputes
// the summary. A reject decision returns the recorded state together with a
// review_rejected error.
func (c *Checkpoint) Apply(state *types.PipelineRunState, d Decision) (*types.PipelineRunState, error) {
	if state.Status != types.RunAwaitingReview {
		return nil, ErrNotAwaitingReview
	}
	if err := d.Validate(state); err != nil {
		return nil, err
	}

	next := state.Clone()
	rec := types.ReviewRecord{
		Action:          d.Action,
		Reviewer:        d.Reviewer,
		Notes:           d.Notes,
		StatusOverrides: d.StatusOverrides,
		ExcludedTrials:  d.ExcludeTrials,
		DecidedAt:       c.now().UTC(),
	}
	if state.Review != nil {
		rec.RequestedAt = state.Review.RequestedAt
	}
	next.Review = &rec

	switch d.Action {
	case types.ReviewReject:
		return next, failure.ReviewRejected(d.Reviewer, d.Notes)
	case types.ReviewModify:
		applyModifications(next, d)
		sum := eligibility.Summarize(next.Assessments, c.topN)
		next.Summary = &sum
	}
	return next, nil
}

func applyModifications(s *types.PipelineRunState, d Decision) {
	if len(d.ExcludeTrials) > 0 {
		trials := s.Trials[:0:0]
		for _, t := range s.Trials {
			if !slices.Contains(d.ExcludeTrials, t.ID) {
				trials = append(trials, t)
			}
		}
		s.Trials = trials

		assessments := s.Assessments[:0:0]
		for _, a := range s.Assessments {
			if !slices.Contains(d.ExcludeTrials, a.TrialID) {
				assessments = append(assessments, a)
			}
		}
		s.Assessments = assessments
	}
	for i := range s.Assessments {
		a := &s.Assessments[i]
		st, ok := d.StatusOverrides[a.TrialID]
		if !ok || st == a.Status {
			continue
		}
		a.Reasoning += fmt.Sprintf(" Reviewer changed status from %s to %s.", a.Status, st)
		a.Status = st
		a.ReviewerOverride = true
	}
}
