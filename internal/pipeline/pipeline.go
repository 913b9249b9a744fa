// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs the trial-matching stages in order as an explicit
// state machine: created, analyzing_profile, discovering_trials,
// scoring_eligibility, awaiting_review, generating_report, completed, with
// failed reachable from any non-terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/discovery"
	"github.com/pdiddy/trialmatch/internal/eligibility"
	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/ratecache"
	"github.com/pdiddy/trialmatch/internal/report"
	"github.com/pdiddy/trialmatch/internal/review"
	"github.com/pdiddy/trialmatch/internal/store"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// ProfileExtractor turns patient text into a profile.
type ProfileExtractor interface {
	Extract(ctx context.Context, text string, demo *types.Demographics) (types.PatientProfile, []string, error)
}

// TrialDiscoverer finds candidate trials.
type TrialDiscoverer interface {
	Discover(ctx context.Context, p types.PatientProfile, opts types.RunOptions) (discovery.Result, error)
}

// Scorer assesses trials.
type Scorer interface {
	Score(ctx context.Context, p types.PatientProfile, trials []types.CandidateTrial) (eligibility.Result, error)
}

// Deps are the orchestrator's collaborators. Risk is optional.
type Deps struct {
	Profile   ProfileExtractor
	Discovery TrialDiscoverer
	Scoring   Scorer
	Review    *review.Checkpoint
	Store     store.Store
	Risk      report.RiskEstimator
	Retry     failure.RetryPolicy
	Logger    *zap.Logger
}

// Orchestrator runs and resumes pipeline runs.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// New returns an orchestrator. Store defaults to an in-memory store.
func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Store == nil {
		d.Store = store.NewMemoryStore()
	}
	if d.Review == nil {
		d.Review = review.NewCheckpoint(false, 0, d.Store, d.Logger)
	}
	if d.Retry.MaxAttempts == 0 {
		d.Retry = failure.DefaultRetryPolicy
	}
	return &Orchestrator{
		deps:   d,
		logger: d.Logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Result is what a caller receives from Run or Resume. Report is nil unless
// Status is completed.
type Result struct {
	RunID    string                  `json:"run_id" yaml:"run_id"`
	Status   types.RunStatus         `json:"status" yaml:"status"`
	Report   *types.ClinicalReport   `json:"report,omitempty" yaml:"report,omitempty"`
	Workflow types.WorkflowMetadata  `json:"workflow" yaml:"workflow"`
	Failure  *types.FailureInfo      `json:"failure,omitempty" yaml:"failure,omitempty"`
	State    *types.PipelineRunState `json:"-" yaml:"-"`
}

func resultOf(s *types.PipelineRunState) *Result {
	r := &Result{RunID: s.RunID, Status: s.Status, Report: s.Report, Failure: s.Failure, State: s}
	if s.Report != nil {
		r.Workflow = s.Report.Workflow
	} else {
		r.Workflow = report.Workflow(s)
		r.Workflow.Status = s.Status
	}
	return r
}

// Run executes a new run. It returns after the run completes, fails, or
// suspends for review. On failure the error carries the stage name and
// kind, and the result describes the failed run.
func (o *Orchestrator) Run(ctx context.Context, in types.RunInput) (*Result, error) {
	now := o.now().UTC()
	state := &types.PipelineRunState{
		Version:   types.StateVersion,
		RunID:     o.newID(),
		Status:    types.RunCreated,
		Input:     in,
		Stages:    []types.StageMetadata{},
		APICalls:  map[string]int{},
		CacheHits: map[string]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.logger.Info("run started", zap.String("run_id", state.RunID))

	steps := []struct {
		status types.RunStatus
		fn     stageFunc
	}{
		{types.RunAnalyzingProfile, o.analyzeProfile},
		{types.RunDiscoveringTrials, o.discoverTrials},
		{types.RunScoringEligibility, o.scoreEligibility},
	}
	for _, st := range steps {
		var err error
		if state, err = o.runStage(ctx, state, st.status, st.fn); err != nil {
			return resultOf(state), err
		}
	}

	state, suspended, err := o.enterReview(ctx, state)
	if err != nil || suspended {
		return resultOf(state), err
	}
	return o.finish(ctx, state)
}

// Resume applies a reviewer decision to a suspended run and, unless the
// decision rejects it, carries the run through report generation.
func (o *Orchestrator) Resume(ctx context.Context, runID string, d review.Decision) (*Result, error) {
	state, err := o.deps.Store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.Status != types.RunAwaitingReview {
		return resultOf(state), fmt.Errorf("resuming %s in %s: %w", runID, state.Status, review.ErrNotAwaitingReview)
	}

	start := o.now()
	decided, err := o.deps.Review.Apply(state, d)
	switch {
	case failure.Is(err, failure.KindReviewRejected):
		decided.Stages = append(decided.Stages, types.StageMetadata{
			Name: string(types.RunAwaitingReview), Outcome: types.StageFailed,
			StartedAt: start.UTC(), Attempts: 1, Error: err.Error(),
		})
		failed := o.failed(decided, types.RunAwaitingReview, err)
		if cerr := o.claim(ctx, failed); cerr != nil {
			return nil, cerr
		}
		return resultOf(failed), failure.WithStage(string(types.RunAwaitingReview), err)
	case err != nil:
		return resultOf(state), err
	}

	decided.Stages = append(decided.Stages, types.StageMetadata{
		Name:      string(types.RunAwaitingReview),
		Outcome:   types.StageCompleted,
		StartedAt: start.UTC(),
		Duration:  o.now().Sub(start),
		Attempts:  1,
		Counts: map[string]int{
			"excluded_trials":  len(d.ExcludeTrials),
			"status_overrides": len(d.StatusOverrides),
		},
	})
	claimed := decided.Clone()
	if err := transition(claimed, types.RunGeneratingReport); err != nil {
		return resultOf(state), err
	}
	claimed.UpdatedAt = o.now().UTC()
	if err := o.claim(ctx, claimed); err != nil {
		return nil, err
	}
	o.logger.Info("run resumed after review",
		zap.String("run_id", runID),
		zap.String("action", string(d.Action)),
		zap.String("reviewer", d.Reviewer))
	return o.finish(ctx, decided)
}

// claim persists the first state after a review decision, but only if the
// run is still awaiting review. A run already claimed by a concurrent
// decision yields ErrNotAwaitingReview.
func (o *Orchestrator) claim(ctx context.Context, next *types.PipelineRunState) error {
	err := o.deps.Store.CompareAndSave(ctx, types.RunAwaitingReview, next)
	if errors.Is(err, store.ErrStatusChanged) {
		o.logger.Info("review decision lost to a concurrent decision", zap.String("run_id", next.RunID))
		return fmt.Errorf("resuming %s: %w", next.RunID, review.ErrNotAwaitingReview)
	}
	if err != nil {
		return fmt.Errorf("claiming run %s: %w", next.RunID, err)
	}
	return nil
}

// Get returns the stored state of a run.
func (o *Orchestrator) Get(ctx context.Context, runID string) (*types.PipelineRunState, error) {
	return o.deps.Store.Load(ctx, runID)
}

// Pending lists runs awaiting review.
func (o *Orchestrator) Pending(ctx context.Context) ([]store.RunSummary, error) {
	return o.deps.Store.ListPending(ctx)
}

// ReviewRuns adapts the orchestrator to the reviewer channel.
func (o *Orchestrator) ReviewRuns() review.Runs { return reviewRuns{o} }

type reviewRuns struct{ o *Orchestrator }

func (r reviewRuns) Pending(ctx context.Context) ([]store.RunSummary, error) {
	return r.o.Pending(ctx)
}

func (r reviewRuns) Get(ctx context.Context, runID string) (*types.PipelineRunState, error) {
	return r.o.Get(ctx, runID)
}

func (r reviewRuns) Resume(ctx context.Context, runID string, d review.Decision) (*types.PipelineRunState, error) {
	res, err := r.o.Resume(ctx, runID, d)
	if res == nil {
		return nil, err
	}
	return res.State, err
}

// enterReview moves a scored run into awaiting_review and reports whether
// it was suspended there. When review is not required the stage is recorded
// as skipped and the run continues.
func (o *Orchestrator) enterReview(ctx context.Context, state *types.PipelineRunState) (*types.PipelineRunState, bool, error) {
	next := state.Clone()
	if err := transition(next, types.RunAwaitingReview); err != nil {
		return o.fail(ctx, state, types.RunAwaitingReview, err), false, err
	}
	meta := types.StageMetadata{Name: string(types.RunAwaitingReview), StartedAt: o.now().UTC(), Attempts: 1}

	if !o.deps.Review.Required(state.Input.Options) {
		meta.Outcome = types.StageSkipped
		next.Stages = append(next.Stages, meta)
		return next, false, nil
	}

	meta.Outcome = types.StageSuspended
	meta.Counts = map[string]int{"assessments": len(next.Assessments)}
	next.Stages = append(next.Stages, meta)
	next.UpdatedAt = o.now().UTC()
	suspended, err := o.deps.Review.Enter(ctx, next)
	if err != nil {
		return o.fail(ctx, state, types.RunAwaitingReview, err), false, failure.WithStage(string(types.RunAwaitingReview), err)
	}
	return suspended, true, nil
}

// finish runs report generation and completes the run.
func (o *Orchestrator) finish(ctx context.Context, state *types.PipelineRunState) (*Result, error) {
	state, err := o.runStage(ctx, state, types.RunGeneratingReport, o.generateReport)
	if err != nil {
		return resultOf(state), err
	}

	done := state.Clone()
	if err := transition(done, types.RunCompleted); err != nil {
		return resultOf(o.fail(ctx, state, types.RunGeneratingReport, err)), err
	}
	done.UpdatedAt = o.now().UTC()
	rep, err := report.Refresh(*done.Report, done)
	if err != nil {
		return resultOf(o.fail(ctx, state, types.RunGeneratingReport, err)), failure.WithStage(string(types.RunGeneratingReport), err)
	}
	done.Report = &rep

	if err := o.deps.Store.Save(ctx, done); err != nil {
		o.logger.Warn("saving completed run failed", zap.String("run_id", done.RunID), zap.Error(err))
	}
	o.logger.Info("run completed",
		zap.String("run_id", done.RunID),
		zap.Int("trials", len(done.Trials)),
		zap.Duration("stage_time", rep.Workflow.TotalDuration))
	return resultOf(done), nil
}

// fail commits state as failed at stage and persists it. The caller's
// state is not modified.
func (o *Orchestrator) fail(ctx context.Context, state *types.PipelineRunState, stage types.RunStatus, err error) *types.PipelineRunState {
	failed := o.failed(state, stage, err)

	// Persist with a fresh context so a cancelled run still records why.
	saveCtx := context.WithoutCancel(ctx)
	if serr := o.deps.Store.Save(saveCtx, failed); serr != nil {
		o.logger.Warn("saving failed run failed", zap.String("run_id", failed.RunID), zap.Error(serr))
	}
	return failed
}

// failed returns a failed copy of state without persisting it.
func (o *Orchestrator) failed(state *types.PipelineRunState, stage types.RunStatus, err error) *types.PipelineRunState {
	failed := state.Clone()
	failed.Status = types.RunFailed
	failed.Failure = &types.FailureInfo{
		Stage:   string(stage),
		Kind:    string(failure.KindOf(err)),
		Source:  failure.SourceOf(err),
		Message: err.Error(),
	}
	failed.UpdatedAt = o.now().UTC()

	o.logger.Error("run failed",
		zap.String("run_id", failed.RunID),
		zap.String("stage", string(stage)),
		zap.String("kind", failed.Failure.Kind),
		zap.Error(err))
	return failed
}

// runRecorder wraps ctx with a fresh recorder for one stage.
func runRecorder(ctx context.Context) (context.Context, *ratecache.Recorder) {
	rec := ratecache.NewRecorder()
	return ratecache.WithRecorder(ctx, rec), rec
}
