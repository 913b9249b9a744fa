// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/report"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// stageReport is what a stage returns alongside its augmented state.
type stageReport struct {
	counts   map[string]int
	warnings []string
	missing  []string
}

// stageFunc receives a private copy of the committed state and returns the
// augmented copy. It must not touch anything else.
type stageFunc func(ctx context.Context, s *types.PipelineRunState) (*types.PipelineRunState, stageReport, error)

// runStage transitions into status, runs fn under the retry policy,
// validates the output and commits it. On any error the returned state is
// the failed run and nothing fn produced is kept.
func (o *Orchestrator) runStage(ctx context.Context, committed *types.PipelineRunState, status types.RunStatus, fn stageFunc) (*types.PipelineRunState, error) {
	if err := ctx.Err(); err != nil {
		err = &failure.Error{Kind: failure.KindCancelled, Err: err}
		return o.fail(ctx, committed, status, err), failure.WithStage(string(status), err)
	}
	entered := committed.Clone()
	if err := transition(entered, status); err != nil {
		return o.fail(ctx, committed, status, err), err
	}

	log := o.logger.With(zap.String("run_id", committed.RunID), zap.String("stage", string(status)))
	log.Debug("stage started")
	start := o.now()
	sctx, rec := runRecorder(ctx)

	var (
		out *types.PipelineRunState
		rep stageReport
	)
	attempts, err := failure.Retry(sctx, o.deps.Retry, func(ctx context.Context) error {
		var ferr error
		out, rep, ferr = fn(ctx, entered.Clone())
		if ferr != nil && failure.Retryable(ferr) {
			log.Warn("stage attempt failed", zap.Error(ferr))
		}
		return ferr
	})
	if err == nil {
		err = validate(status, out)
	}

	meta := types.StageMetadata{
		Name:      string(status),
		StartedAt: start.UTC(),
		Duration:  o.now().Sub(start),
		Attempts:  attempts,
	}
	calls, hits := rec.Calls(), rec.Hits()

	if err != nil {
		meta.Outcome = types.StageFailed
		meta.Error = err.Error()
		base := entered.Clone()
		base.Stages = append(base.Stages, meta)
		mergeCounts(base.APICalls, calls)
		mergeCounts(base.CacheHits, hits)
		return o.fail(ctx, base, status, err), failure.WithStage(string(status), err)
	}

	meta.Outcome = types.StageCompleted
	meta.Counts = rep.counts
	meta.Warnings = rep.warnings
	out.Status = status
	out.Stages = append(entered.Stages, meta)
	out.APICalls = mergeCounts(copyCounts(entered.APICalls), calls)
	out.CacheHits = mergeCounts(copyCounts(entered.CacheHits), hits)
	out.MissingEnrichments = append(append([]string{}, entered.MissingEnrichments...), rep.missing...)
	out.UpdatedAt = o.now().UTC()

	for _, w := range rep.warnings {
		log.Warn("enrichment degraded", zap.String("detail", w))
	}
	log.Info("stage succeeded",
		zap.Int("attempts", attempts),
		zap.Duration("duration", meta.Duration),
		zap.Any("counts", rep.counts))
	return out, nil
}

func (o *Orchestrator) analyzeProfile(ctx context.Context, s *types.PipelineRunState) (*types.PipelineRunState, stageReport, error) {
	p, missing, err := o.deps.Profile.Extract(ctx, s.Input.PatientText, s.Input.Demographics)
	if err != nil {
		return nil, stageReport{}, err
	}
	s.Profile = &p
	return s, stageReport{
		counts: map[string]int{
			"medications":      len(p.Medications),
			"comorbidities":    len(p.Comorbidities),
			"biomarkers":       len(p.Biomarkers),
			"prior_treatments": len(p.PriorTreatments),
		},
		missing: missing,
	}, nil
}

func (o *Orchestrator) discoverTrials(ctx context.Context, s *types.PipelineRunState) (*types.PipelineRunState, stageReport, error) {
	res, err := o.deps.Discovery.Discover(ctx, *s.Profile, s.Input.Options)
	if err != nil {
		return nil, stageReport{}, err
	}
	s.Trials = res.Trials
	counts := copyCounts(res.Counts)
	if res.FallbackUsed {
		counts["fallback_used"] = 1
	}
	return s, stageReport{counts: counts, warnings: res.Warnings, missing: res.Missing}, nil
}

func (o *Orchestrator) scoreEligibility(ctx context.Context, s *types.PipelineRunState) (*types.PipelineRunState, stageReport, error) {
	res, err := o.deps.Scoring.Score(ctx, *s.Profile, s.Trials)
	if err != nil {
		return nil, stageReport{}, err
	}
	s.Assessments = res.Assessments
	sum := res.Summary
	s.Summary = &sum
	return s, stageReport{counts: res.Counts, warnings: res.Warnings, missing: res.Missing}, nil
}

func (o *Orchestrator) generateReport(ctx context.Context, s *types.PipelineRunState) (*types.PipelineRunState, stageReport, error) {
	rep, missing, err := report.Build(ctx, s, o.deps.Risk, o.now())
	if err != nil {
		if ctx.Err() != nil {
			return nil, stageReport{}, err
		}
		return nil, stageReport{}, failure.Validation("assembling report: %v", err)
	}
	s.Report = &rep
	return s, stageReport{
		counts:  map[string]int{"report_trials": len(rep.Trials)},
		missing: missing,
	}, nil
}

func mergeCounts(dst, src map[string]int) map[string]int {
	if dst == nil {
		dst = map[string]int{}
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
