// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eligibility

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/sources"
	"github.com/pdiddy/trialmatch/pkg/types"
)

type fakeDrugSafety struct {
	result sources.LookupResult
	calls  int
	drugs  []string
}

func (f *fakeDrugSafety) Lookup(_ context.Context, drugs []string, _ bool, _ int) sources.LookupResult {
	f.calls++
	f.drugs = drugs
	return f.result
}

var diabetic = types.PatientProfile{
	Diagnosis:     "Type 2 Diabetes",
	Age:           65,
	Medications:   []string{"Metformin", "Lisinopril"},
	Comorbidities: []string{"Hypertension"},
	Biomarkers:    []string{"HbA1c"},
}

func metforminTrial() types.CandidateTrial {
	return types.CandidateTrial{
		ID:           "NCT01",
		Title:        "Adults 18-75 on Metformin",
		Condition:    "Type 2 Diabetes",
		Intervention: "Semaglutide",
		Criteria: types.Criteria{
			Inclusion: []string{"Adults 18-75 with type 2 diabetes", "Stable dose of metformin for 3 months"},
			Exclusion: []string{"Type 1 diabetes"},
			MinAge:    "18 Years",
			MaxAge:    "75 Years",
		},
	}
}

func TestAssess_AgeAndMedicationMatch(t *testing.T) {
	s := New(types.EligibilityConfig{}, nil, nil)
	a := s.Assess(diabetic, metforminTrial(), nil)

	assert.True(t, a.Age.Eligible)
	assert.True(t, a.Medication.Eligible)
	assert.GreaterOrEqual(t, a.Score, 0.6)
	assert.Equal(t, 1.0, a.Score)
	assert.Equal(t, types.Eligible, a.Status)
	assert.Equal(t, []string{"Stable dose of metformin for 3 months"}, a.InclusionMatches)
	assert.Empty(t, a.ExclusionConflicts)
	assert.Contains(t, a.Reasoning, "ELIGIBLE with score 1.00")
}

func TestAssess_ExclusionConflictNeverEligible(t *testing.T) {
	tr := metforminTrial()
	tr.Criteria.Exclusion = []string{"Uncontrolled hypertension (>160/100 mmHg)"}
	s := New(types.EligibilityConfig{}, nil, nil)

	a := s.Assess(diabetic, tr, nil)
	assert.Equal(t, []string{"Uncontrolled hypertension (>160/100 mmHg)"}, a.ExclusionConflicts)
	assert.Equal(t, 0.8, a.Score)
	assert.NotEqual(t, types.Eligible, a.Status)
	assert.Equal(t, types.PotentiallyEligible, a.Status)
	assert.Contains(t, a.Recommendations, "Discuss exclusion criterion with the study team: Uncontrolled hypertension (>160/100 mmHg)")
}

func TestAssess_ScoreAndStatusConsistent(t *testing.T) {
	th := DefaultThresholds
	s := New(types.EligibilityConfig{}, nil, nil)
	ages := []int{10, 40, 65, 90}
	locations := []string{"", "Boston, MA", "Denver, CO"}
	meds := [][]string{nil, {"Metformin"}, {"Aspirin"}}
	comorbid := [][]string{nil, {"Hypertension"}}

	tr := metforminTrial()
	tr.Criteria.Exclusion = []string{"Severe hypertension"}
	tr.Locations = []types.TrialLocation{{City: "Boston", State: "Massachusetts", Country: "United States"}}

	for _, age := range ages {
		for _, loc := range locations {
			for _, m := range meds {
				for _, c := range comorbid {
					p := types.PatientProfile{Diagnosis: "Type 2 Diabetes", Age: age, Location: loc, Medications: m, Comorbidities: c}
					a := s.Assess(p, tr, nil)
					require.GreaterOrEqual(t, a.Score, 0.0)
					require.LessOrEqual(t, a.Score, 1.0)
					switch {
					case a.HasExclusionConflict():
						require.NotEqual(t, types.Eligible, a.Status)
						if a.Score >= th.Potential {
							require.Equal(t, types.PotentiallyEligible, a.Status)
						}
					case a.Score >= th.Eligible:
						require.Equal(t, types.Eligible, a.Status)
					case a.Score >= th.Potential:
						require.Equal(t, types.PotentiallyEligible, a.Status)
					case a.Score < th.Review:
						require.Equal(t, types.Ineligible, a.Status)
					default:
						require.Equal(t, types.RequiresReview, a.Status)
					}
				}
			}
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		score float64
		want  types.EligibilityStatus
	}{
		{1.0, types.Eligible},
		{0.8, types.Eligible},
		{0.79, types.PotentiallyEligible},
		{0.6, types.PotentiallyEligible},
		{0.5, types.RequiresReview},
		{0.4, types.RequiresReview},
		{0.39, types.Ineligible},
		{0, types.Ineligible},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StatusFor(tc.score, DefaultThresholds), "score %.2f", tc.score)
	}
}

func TestAssess_CustomWeights(t *testing.T) {
	cfg := types.EligibilityConfig{
		Weights:    types.ScoringWeights{Age: 0.1, Location: 0.1, Medication: 0.7, Exclusion: 0.1},
		Thresholds: types.ScoringThresholds{Eligible: 0.9, Potential: 0.7, Review: 0.3},
	}
	tr := metforminTrial()
	tr.Criteria.MinAge = "70 Years"
	a := New(cfg, nil, nil).Assess(diabetic, tr, nil)
	assert.False(t, a.Age.Eligible)
	assert.Equal(t, 0.9, a.Score)
	assert.Equal(t, types.Eligible, a.Status)
}

func TestParseAgeBound(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"18 Years", 0, 18},
		{"Adults 18-75", 0, 18},
		{"", 999, 999},
		{"N/A", 0, 0},
		{"6 Months", 0, 0},
		{"30 Months", 0, 2},
		{"104 Weeks", 0, 2},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseAgeBound(tc.in, tc.def), tc.in)
	}
}

func TestCheckAge(t *testing.T) {
	v := CheckAge(40, types.Criteria{})
	assert.True(t, v.Eligible)
	assert.Equal(t, "no age restriction", v.Reason)

	assert.True(t, CheckAge(80, types.Criteria{MinAge: "18 Years"}).Eligible)
	assert.False(t, CheckAge(80, types.Criteria{MaxAge: "75 Years"}).Eligible)
	assert.False(t, CheckAge(17, types.Criteria{MinAge: "18 Years", MaxAge: "75 Years"}).Eligible)
	assert.True(t, CheckAge(75, types.Criteria{MinAge: "18 Years", MaxAge: "75 Years"}).Eligible)
}

func TestCheckLocation(t *testing.T) {
	sites := []types.TrialLocation{
		{Facility: "Mass General", City: "Boston", State: "Massachusetts", Country: "United States"},
		{Facility: "MD Anderson", City: "Houston", State: "Texas", Country: "United States"},
	}

	none := CheckLocation("", sites)
	assert.True(t, none.Eligible)
	assert.Len(t, none.AvailableLocations, 2)

	tx := CheckLocation("Houston, TX", sites)
	assert.True(t, tx.Eligible)
	assert.Equal(t, []string{"MD Anderson, Houston, Texas, United States"}, tx.AvailableLocations)

	co := CheckLocation("Denver, CO", sites)
	assert.False(t, co.Eligible)
	assert.Empty(t, co.AvailableLocations)
}

func TestCheckMedications(t *testing.T) {
	v, lines := CheckMedications(nil, []string{"metformin"})
	assert.False(t, v.Eligible)
	assert.Empty(t, lines)

	v, lines = CheckMedications([]string{"Insulin"}, []string{"On METFORMIN", "No insulin use in last 30 days"})
	assert.True(t, v.Eligible)
	assert.Equal(t, []string{"No insulin use in last 30 days"}, lines)
}

func TestCheckBiomarkers(t *testing.T) {
	assert.True(t, CheckBiomarkers(nil, []string{"Adults with asthma"}).Eligible)
	assert.False(t, CheckBiomarkers(nil, []string{"EGFR mutation positive"}).Eligible)
	v := CheckBiomarkers([]string{"EGFR"}, []string{"EGFR mutation positive"})
	assert.True(t, v.Eligible)
	assert.Contains(t, v.Reason, "EGFR")
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, types.SeverityCritical, Severity("Use with dofetilide is contraindicated", false))
	assert.Equal(t, types.SeverityHigh, Severity("Lactic acidosis", true))
	assert.Equal(t, types.SeverityHigh, Severity("Avoid concomitant use", false))
	assert.Equal(t, types.SeverityModerate, Severity("Monitor blood glucose", false))
	assert.Equal(t, types.SeverityLow, Severity("May increase exposure", false))
}

func TestScore_CriticalInteractionAlwaysFlagged(t *testing.T) {
	drugs := &fakeDrugSafety{result: sources.LookupResult{
		Signals: []types.SafetySignal{{
			Drug:              "Metformin",
			Contraindications: []string{"Concomitant semaglutide therapy is contraindicated in renal impairment."},
			Interactions:      []string{"Lisinopril may enhance hypoglycemia; monitor glucose."},
		}},
		Failures: map[string]error{},
	}}
	tr := metforminTrial()
	tr.Criteria.MinAge = "70 Years"
	tr.Criteria.Inclusion = []string{"Drug naive"}
	tr.Criteria.Exclusion = []string{"Hypertension requiring therapy"}

	s := New(types.EligibilityConfig{CheckDrugSafety: true}, drugs, nil)
	res, err := s.Score(context.Background(), diabetic, []types.CandidateTrial{tr})
	require.NoError(t, err)
	require.Len(t, res.Assessments, 1)
	a := res.Assessments[0]

	assert.Equal(t, types.Ineligible, a.Status)
	require.Len(t, a.DrugInteractions, 2)
	assert.Equal(t, types.DrugInteraction{
		Drug: "Metformin", InteractsWith: "semaglutide", Severity: types.SeverityCritical,
		Description: "Concomitant semaglutide therapy is contraindicated in renal impairment.",
	}, a.DrugInteractions[0])
	assert.Equal(t, "Lisinopril", a.DrugInteractions[1].InteractsWith)
	assert.Equal(t, types.SeverityModerate, a.DrugInteractions[1].Severity)
	assert.Equal(t, []string{"CRITICAL: Metformin + semaglutide"}, a.SafetyFlags)
	assert.Equal(t, []string{"CRITICAL: Metformin + semaglutide"}, res.Summary.SafetyConcerns)
	assert.Equal(t, []string{"Metformin", "Lisinopril"}, drugs.drugs)
}

func TestScore_DrugSafetyFailureAbsorbed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	drugs := &fakeDrugSafety{result: sources.LookupResult{
		Signals:  []types.SafetySignal{{Drug: "Metformin"}},
		Failures: map[string]error{"Lisinopril": failure.SourceUnavailable(sources.SourceDrugSafety, errors.New("503"))},
	}}
	s := New(types.EligibilityConfig{CheckDrugSafety: true}, drugs, zap.New(core))

	res, err := s.Score(context.Background(), diabetic, []types.CandidateTrial{metforminTrial()})
	require.NoError(t, err)
	assert.Len(t, res.Assessments, 1)
	assert.Equal(t, []string{"drug_safety:Lisinopril"}, res.Missing)
	assert.Equal(t, 1, logs.FilterMessage("drug safety lookup failed, continuing without it").Len())
}

func TestScore_DrugSafetyDisabled(t *testing.T) {
	drugs := &fakeDrugSafety{}
	s := New(types.EligibilityConfig{CheckDrugSafety: false}, drugs, nil)
	_, err := s.Score(context.Background(), diabetic, []types.CandidateTrial{metforminTrial()})
	require.NoError(t, err)
	assert.Equal(t, 0, drugs.calls)
}

func TestScore_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(types.EligibilityConfig{}, nil, nil)
	_, err := s.Score(ctx, diabetic, []types.CandidateTrial{metforminTrial()})
	assert.True(t, failure.Is(err, failure.KindCancelled))
}

func TestSummarize(t *testing.T) {
	as := []types.EligibilityAssessment{
		{TrialID: "A", Status: types.PotentiallyEligible, Score: 0.7},
		{TrialID: "B", Status: types.Eligible, Score: 0.8},
		{TrialID: "C", Status: types.Ineligible, Score: 0.2, SafetyFlags: []string{"CRITICAL: x"}},
		{TrialID: "D", Status: types.Eligible, Score: 1.0},
		{TrialID: "E", Status: types.PotentiallyEligible, Score: 0.7, SafetyFlags: []string{"CRITICAL: x"}},
		{TrialID: "F", Status: types.RequiresReview, Score: 0.5},
		{TrialID: "G", Status: types.Eligible, Score: 0.8},
	}
	sum := Summarize(as, 4)
	assert.Equal(t, 7, sum.Total)
	assert.Equal(t, 3, sum.StatusCounts[types.Eligible])
	assert.Equal(t, 2, sum.StatusCounts[types.PotentiallyEligible])
	assert.Equal(t, 1, sum.StatusCounts[types.RequiresReview])
	assert.Equal(t, 1, sum.StatusCounts[types.Ineligible])
	assert.Equal(t, 0.67, sum.AverageScore)
	assert.Equal(t, []string{"D", "B", "G", "A"}, sum.TopTrialIDs)
	assert.Equal(t, []string{"CRITICAL: x"}, sum.SafetyConcerns)

	empty := Summarize(nil, 5)
	assert.Equal(t, 0, empty.Total)
	assert.NotNil(t, empty.TopTrialIDs)
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	short := "Avoid   use\nwith MAO inhibitors"
	assert.Equal(t, "Avoid use with MAO inhibitors", truncate(short))

	long := strings.Repeat("a", maxDescription-1) + "é fatal hépatotoxicité"
	got := truncate(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("a", maxDescription-1)+"...", got)
}
