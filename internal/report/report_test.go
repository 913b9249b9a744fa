// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/trialmatch/pkg/types"
)

type fakeRisk map[string]float64

func (f fakeRisk) DropoutRisk(_ context.Context, _ types.PatientProfile, t types.CandidateTrial) (float64, error) {
	p, ok := f[t.ID]
	if !ok {
		return 0, errors.New("model unavailable")
	}
	return p, nil
}

func completedState() *types.PipelineRunState {
	hba1c := 8.1
	return &types.PipelineRunState{
		Version: types.StateVersion,
		RunID:   "run-42",
		Status:  types.RunGeneratingReport,
		Profile: &types.PatientProfile{
			Diagnosis: "Type 2 Diabetes", DiagnosisCode: "E11.9", Age: 65,
			Medications: []string{"Metformin"}, Location: "Boston, MA",
			LabValues:        types.LabValues{HbA1c: &hba1c, BloodPressure: &types.BloodPressure{Systolic: 140, Diastolic: 90}},
			ExtractionMethod: "rules",
		},
		Trials: []types.CandidateTrial{
			{ID: "NCT1", Title: "Low match", URL: "https://clinicaltrials.gov/study/NCT1", Status: types.StatusRecruiting},
			{ID: "NCT2", Title: "Best match | GLP-1", URL: "https://clinicaltrials.gov/study/NCT2", Status: types.StatusRecruiting,
				Intervention: "Semaglutide", MatchReasons: []string{"Condition match: Type 2 Diabetes"},
				Literature: []types.LiteratureReference{{Title: "SUSTAIN-6", URL: "https://pubmed.ncbi.nlm.nih.gov/1/", Journal: "NEJM", PublicationDate: "2016"}}},
			{ID: "NCT3", Title: "Second", URL: "https://clinicaltrials.gov/study/NCT3", Status: types.StatusRecruiting},
		},
		Assessments: []types.EligibilityAssessment{
			{TrialID: "NCT1", Status: types.Ineligible, Score: 0.2},
			{TrialID: "NCT2", Status: types.Eligible, Score: 1.0,
				DrugInteractions: []types.DrugInteraction{{Drug: "Metformin", InteractsWith: "semaglutide", Severity: types.SeverityCritical, Description: "contraindicated"}},
				SafetyFlags:      []string{"CRITICAL: Metformin + semaglutide"}},
			{TrialID: "NCT3", Status: types.PotentiallyEligible, Score: 0.7},
		},
		Summary: &types.EligibilitySummary{
			Total: 3, AverageScore: 0.63, TopTrialIDs: []string{"NCT2", "NCT3"},
			StatusCounts:   map[types.EligibilityStatus]int{types.Eligible: 1, types.PotentiallyEligible: 1, types.Ineligible: 1},
			SafetyConcerns: []string{"CRITICAL: Metformin + semaglutide"},
		},
		Stages: []types.StageMetadata{
			{Name: "analyzing_profile", Outcome: types.StageCompleted, Attempts: 1, Duration: 2 * time.Millisecond},
			{Name: "discovering_trials", Outcome: types.StageCompleted, Attempts: 1, Duration: 40 * time.Millisecond},
		},
		APICalls:           map[string]int{"registry": 1, "literature": 2},
		CacheHits:          map[string]int{"literature": 1},
		MissingEnrichments: []string{"literature:NCT3"},
	}
}

func TestBuild_RanksAndSummarizes(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	rep, missing, err := Build(context.Background(), completedState(), nil, now)
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.Len(t, rep.Trials, 3)
	assert.Equal(t, "NCT2", rep.Trials[0].Trial.ID)
	assert.Equal(t, "NCT3", rep.Trials[1].Trial.ID)
	assert.Equal(t, "NCT1", rep.Trials[2].Trial.ID)
	assert.Equal(t, now, rep.GeneratedAt)
	assert.Equal(t, []string{"literature:NCT3"}, rep.MissingEnrichments)

	assert.Equal(t, types.RunCompleted, rep.Workflow.Status)
	assert.Equal(t, 42*time.Millisecond, rep.Workflow.TotalDuration)
	assert.Equal(t, 2, rep.Workflow.APICalls["literature"])
	assert.Len(t, rep.Workflow.Stages, 2)
}

func TestBuild_DropoutRisk(t *testing.T) {
	risk := fakeRisk{"NCT1": 0.25, "NCT2": 1.7}
	rep, missing, err := Build(context.Background(), completedState(), risk, time.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dropout_risk:NCT2", "dropout_risk:NCT3"}, missing)

	byID := map[string]types.ReportTrial{}
	for _, rt := range rep.Trials {
		byID[rt.Trial.ID] = rt
	}
	require.NotNil(t, byID["NCT1"].DropoutRisk)
	assert.Equal(t, 0.25, *byID["NCT1"].DropoutRisk)
	assert.Nil(t, byID["NCT2"].DropoutRisk)
	assert.Contains(t, rep.MissingEnrichments, "dropout_risk:NCT3")
}

func TestBuild_RejectsInconsistentState(t *testing.T) {
	s := completedState()
	s.Assessments = s.Assessments[:2]
	_, _, err := Build(context.Background(), s, nil, time.Now())
	assert.Error(t, err)

	s = completedState()
	s.Profile = nil
	_, _, err = Build(context.Background(), s, nil, time.Now())
	assert.Error(t, err)
}

func TestMarkdown_Sections(t *testing.T) {
	s := completedState()
	s.Review = &types.ReviewRecord{Action: types.ReviewApprove, Reviewer: "dr.lee", Notes: "ok"}
	rep, _, err := Build(context.Background(), s, nil, time.Now())
	require.NoError(t, err)

	md := rep.Markdown
	for _, want := range []string{
		"# Clinical Trial Matching Report",
		"| Diagnosis | Type 2 Diabetes (E11.9) |",
		"| Lab values | HbA1c 8.1, BP 140/90 |",
		"| ELIGIBLE | 1 |",
		"Top matches: NCT2, NCT3",
		"### 1. Best match | GLP-1",
		"- Registry id: [NCT2](https://clinicaltrials.gov/study/NCT2)",
		"- CRITICAL: Metformin with semaglutide. contraindicated",
		"- [SUSTAIN-6](https://pubmed.ncbi.nlm.nih.gov/1/), NEJM (2016)",
		"## Safety Concerns",
		"## Missing Enrichments",
		"- Reviewer: dr.lee",
		"| discovering_trials | completed | 1 | 40ms |",
		"Upstream calls: literature 2, registry 1.",
	} {
		assert.Contains(t, md, want)
	}
}

func TestHTML(t *testing.T) {
	html, err := HTML("## Trials\n\n| A | B |\n|---|---|\n| x | y |\n")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
	assert.Contains(t, html, "<h2>Trials</h2>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<td>x</td>")
}
