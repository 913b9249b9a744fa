// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package eligibility scores candidate trials against a patient profile.
// Scoring is deterministic: four weighted sub-checks produce a score in
// [0,1] and the score maps to a status through ordered thresholds.
package eligibility

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/sources"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// DefaultWeights are age 0.3, location 0.2, medication 0.3, exclusion 0.2.
var DefaultWeights = types.ScoringWeights{Age: 0.3, Location: 0.2, Medication: 0.3, Exclusion: 0.2}

// DefaultThresholds are 0.8 eligible, 0.6 potential, 0.4 review.
var DefaultThresholds = types.ScoringThresholds{Eligible: 0.8, Potential: 0.6, Review: 0.4}

// DefaultTopN is the summary's top trial count.
const DefaultTopN = 5

// DrugSafety looks up label signals for the patient's medications.
type DrugSafety interface {
	Lookup(ctx context.Context, drugs []string, includeBoxedWarning bool, limitPerDrug int) sources.LookupResult
}

// Result is the outcome of scoring one run's trials.
type Result struct {
	Assessments []types.EligibilityAssessment
	Summary     types.EligibilitySummary
	Counts      map[string]int
	Missing     []string
	Warnings    []string
}

// Stage runs eligibility scoring.
type Stage struct {
	cfg    types.EligibilityConfig
	drugs  DrugSafety
	logger *zap.Logger
}

// New returns a scoring stage. Zero weights or thresholds fall back to the
// defaults. drugs may be nil, which disables drug-safety checks.
func New(cfg types.EligibilityConfig, drugs DrugSafety, logger *zap.Logger) *Stage {
	if cfg.Weights == (types.ScoringWeights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.Thresholds == (types.ScoringThresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.LabelsPerDrug <= 0 {
		cfg.LabelsPerDrug = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{cfg: cfg, drugs: drugs, logger: logger}
}

// Score assesses every trial in discovery order and summarizes the result.
// Drug-safety failures are absorbed: the affected drug is recorded as a
// missing enrichment and scoring continues.
func (s *Stage) Score(ctx context.Context, p types.PatientProfile, trials []types.CandidateTrial) (Result, error) {
	res := Result{Counts: map[string]int{}}

	var signals []types.SafetySignal
	if s.cfg.CheckDrugSafety && s.drugs != nil && len(p.Medications) > 0 {
		lookup := s.drugs.Lookup(ctx, p.Medications, true, s.cfg.LabelsPerDrug)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		signals = lookup.Signals
		for _, drug := range p.Medications {
			err, ok := lookup.Failures[drug]
			if !ok {
				continue
			}
			s.logger.Warn("drug safety lookup failed, continuing without it",
				zap.String("source", sources.SourceDrugSafety),
				zap.String("drug", drug),
				zap.Error(err))
			res.Missing = append(res.Missing, "drug_safety:"+drug)
			res.Warnings = append(res.Warnings, fmt.Sprintf("drug safety unavailable for %s", drug))
			delete(lookup.Failures, drug)
		}
		res.Counts["drug_signals"] = len(signals)
	}

	res.Assessments = make([]types.EligibilityAssessment, 0, len(trials))
	for _, t := range trials {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Assessments = append(res.Assessments, s.Assess(p, t, signals))
	}
	res.Summary = Summarize(res.Assessments, s.cfg.TopN)
	for status, n := range res.Summary.StatusCounts {
		res.Counts[strings.ToLower(string(status))] = n
	}
	res.Counts["assessed"] = len(res.Assessments)
	return res, nil
}

// Assess scores a single trial.
func (s *Stage) Assess(p types.PatientProfile, t types.CandidateTrial, signals []types.SafetySignal) types.EligibilityAssessment {
	w := s.cfg.Weights
	a := types.EligibilityAssessment{
		TrialID:            t.ID,
		InclusionMatches:   []string{},
		ExclusionConflicts: []string{},
		DrugInteractions:   []types.DrugInteraction{},
		Recommendations:    []string{},
		SafetyFlags:        []string{},
	}

	a.Age = CheckAge(p.Age, t.Criteria)
	a.Location = CheckLocation(p.Location, t.Locations)
	a.Medication, a.InclusionMatches = CheckMedications(p.Medications, t.Criteria.Inclusion)
	a.ExclusionConflicts = CheckExclusions(p.Comorbidities, t.Criteria.Exclusion)
	a.Biomarker = CheckBiomarkers(p.Biomarkers, t.Criteria.Inclusion)

	var score float64
	if a.Age.Eligible {
		score += w.Age
	}
	if a.Location.Eligible {
		score += w.Location
	}
	if a.Medication.Eligible {
		score += w.Medication
	}
	if !a.HasExclusionConflict() {
		score += w.Exclusion
	}
	a.Score = clamp(round2(score))
	a.Status = StatusFor(a.Score, s.cfg.Thresholds)
	if a.HasExclusionConflict() && a.Status == types.Eligible {
		a.Status = types.PotentiallyEligible
	}

	a.DrugInteractions = Interactions(p.Medications, t, signals)
	for _, di := range a.DrugInteractions {
		if di.Severity.Rank() >= types.SeverityHigh.Rank() {
			a.SafetyFlags = appendUnique(a.SafetyFlags, safetyFlag(di))
		}
	}

	a.Recommendations = recommendations(a)
	a.Reasoning = reasoning(a)
	return a
}

// StatusFor maps a score to a status. Scores at or above th.Eligible are
// ELIGIBLE, at or above th.Potential POTENTIALLY_ELIGIBLE, below th.Review
// INELIGIBLE, and REQUIRES_REVIEW otherwise.
func StatusFor(score float64, th types.ScoringThresholds) types.EligibilityStatus {
	switch {
	case score >= th.Eligible:
		return types.Eligible
	case score >= th.Potential:
		return types.PotentiallyEligible
	case score < th.Review:
		return types.Ineligible
	default:
		return types.RequiresReview
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func safetyFlag(di types.DrugInteraction) string {
	subject := di.Drug
	if di.InteractsWith != "" {
		subject += " + " + di.InteractsWith
	}
	return fmt.Sprintf("%s: %s", di.Severity, subject)
}

func recommendations(a types.EligibilityAssessment) []string {
	recs := []string{}
	if !a.Age.Eligible {
		recs = append(recs, "Confirm age eligibility with the study team")
	}
	if !a.Location.Eligible {
		recs = append(recs, "Ask the study team about travel support or additional sites")
	}
	if !a.Medication.Eligible {
		recs = append(recs, "Review inclusion criteria against current treatment with the treating physician")
	}
	for _, c := range a.ExclusionConflicts {
		recs = append(recs, "Discuss exclusion criterion with the study team: "+c)
	}
	if !a.Biomarker.Eligible {
		recs = append(recs, "Confirm biomarker testing before referral")
	}
	if len(a.SafetyFlags) > 0 {
		recs = append(recs, "Pharmacist review of drug interactions before enrollment")
	}
	if a.Status == types.RequiresReview {
		recs = append(recs, "Manual eligibility review recommended")
	}
	return recs
}

func reasoning(a types.EligibilityAssessment) string {
	mark := func(ok bool) string {
		if ok {
			return "met"
		}
		return "not met"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s with score %.2f. ", a.Status, a.Score)
	fmt.Fprintf(&b, "Age %s (%s). ", mark(a.Age.Eligible), a.Age.Reason)
	fmt.Fprintf(&b, "Location %s (%s). ", mark(a.Location.Eligible), a.Location.Reason)
	fmt.Fprintf(&b, "Medication criteria %s (%s). ", mark(a.Medication.Eligible), a.Medication.Reason)
	if a.HasExclusionConflict() {
		fmt.Fprintf(&b, "%d exclusion conflict(s) found.", len(a.ExclusionConflicts))
	} else {
		b.WriteString("No exclusion conflicts.")
	}
	return b.String()
}
