// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report assembles the final ClinicalReport from a run's state and
// renders it as Markdown and HTML.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pdiddy/trialmatch/pkg/types"
)

// RiskEstimator predicts the probability, in [0,1], that the patient drops
// out of a trial.
type RiskEstimator interface {
	DropoutRisk(ctx context.Context, profile types.PatientProfile, trial types.CandidateTrial) (float64, error)
}

// Build assembles the report for a state that has a profile and
// assessments. Estimator failures are absorbed and returned as missing
// enrichments. risk may be nil.
func Build(ctx context.Context, state *types.PipelineRunState, risk RiskEstimator, now time.Time) (types.ClinicalReport, []string, error) {
	if state.Profile == nil {
		return types.ClinicalReport{}, nil, fmt.Errorf("run %s has no profile", state.RunID)
	}
	if len(state.Assessments) != len(state.Trials) {
		return types.ClinicalReport{}, nil, fmt.Errorf("run %s has %d trials but %d assessments",
			state.RunID, len(state.Trials), len(state.Assessments))
	}

	var missing []string
	trials := make([]types.ReportTrial, 0, len(state.Trials))
	for _, t := range state.Trials {
		a := state.AssessmentFor(t.ID)
		if a == nil {
			return types.ClinicalReport{}, nil, fmt.Errorf("trial %s has no assessment", t.ID)
		}
		rt := types.ReportTrial{Trial: t, Assessment: *a}
		if risk != nil && !t.Synthetic {
			p, err := risk.DropoutRisk(ctx, *state.Profile, t)
			if err := ctx.Err(); err != nil {
				return types.ClinicalReport{}, nil, err
			}
			if err == nil && p >= 0 && p <= 1 {
				rt.DropoutRisk = &p
			} else {
				missing = append(missing, "dropout_risk:"+t.ID)
			}
		}
		trials = append(trials, rt)
	}
	rankTrials(trials)

	summary := types.EligibilitySummary{}
	if state.Summary != nil {
		summary = *state.Summary
	}

	rep := types.ClinicalReport{
		RunID:              state.RunID,
		GeneratedAt:        now.UTC(),
		Profile:            *state.Profile,
		Trials:             trials,
		Summary:            summary,
		Review:             state.Review,
		MissingEnrichments: append(append([]string{}, state.MissingEnrichments...), missing...),
	}
	rep, err := Refresh(rep, state)
	if err != nil {
		return types.ClinicalReport{}, nil, err
	}
	return rep, missing, nil
}

// Refresh recomputes the workflow metadata from state and re-renders the
// Markdown and HTML bodies.
func Refresh(rep types.ClinicalReport, state *types.PipelineRunState) (types.ClinicalReport, error) {
	rep.Workflow = Workflow(state)
	rep.Markdown = Markdown(rep)
	html, err := HTML(rep.Markdown)
	if err != nil {
		return types.ClinicalReport{}, err
	}
	rep.HTML = html
	return rep, nil
}

var statusRank = map[types.EligibilityStatus]int{
	types.Eligible:            0,
	types.PotentiallyEligible: 1,
	types.RequiresReview:      2,
	types.Ineligible:          3,
}

// rankTrials orders by status, then score, keeping discovery order on ties.
func rankTrials(trials []types.ReportTrial) {
	sort.SliceStable(trials, func(i, j int) bool {
		a, b := trials[i].Assessment, trials[j].Assessment
		if statusRank[a.Status] != statusRank[b.Status] {
			return statusRank[a.Status] < statusRank[b.Status]
		}
		return a.Score > b.Score
	})
}

// Workflow summarizes how the run executed. TotalDuration is the sum of
// stage durations, so time spent waiting for a reviewer is not counted.
func Workflow(state *types.PipelineRunState) types.WorkflowMetadata {
	var total time.Duration
	for _, s := range state.Stages {
		total += s.Duration
	}
	return types.WorkflowMetadata{
		RunID:         state.RunID,
		Status:        types.RunCompleted,
		TotalDuration: total,
		Stages:        append([]types.StageMetadata{}, state.Stages...),
		APICalls:      copyCounts(state.APICalls),
		CacheHits:     copyCounts(state.CacheHits),
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
