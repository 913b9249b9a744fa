// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eligibility

import (
	"sort"

	"github.com/pdiddy/trialmatch/pkg/types"
)

// Summarize aggregates assessments given in discovery order. The top list
// holds up to topN ELIGIBLE then POTENTIALLY_ELIGIBLE trial ids, highest
// score first, ties kept in discovery order.
func Summarize(assessments []types.EligibilityAssessment, topN int) types.EligibilitySummary {
	sum := types.EligibilitySummary{
		Total: len(assessments),
		StatusCounts: map[types.EligibilityStatus]int{
			types.Eligible:            0,
			types.PotentiallyEligible: 0,
			types.RequiresReview:      0,
			types.Ineligible:          0,
		},
		TopTrialIDs:    []string{},
		SafetyConcerns: []string{},
	}
	if len(assessments) == 0 {
		return sum
	}

	var total float64
	var ranked []int
	for i, a := range assessments {
		sum.StatusCounts[a.Status]++
		total += a.Score
		if a.Status == types.Eligible || a.Status == types.PotentiallyEligible {
			ranked = append(ranked, i)
		}
		for _, f := range a.SafetyFlags {
			sum.SafetyConcerns = appendUnique(sum.SafetyConcerns, f)
		}
	}
	sum.AverageScore = round2(total / float64(len(assessments)))

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := assessments[ranked[i]], assessments[ranked[j]]
		if a.Status != b.Status {
			return a.Status == types.Eligible
		}
		return a.Score > b.Score
	})
	for _, i := range ranked {
		if len(sum.TopTrialIDs) == topN {
			break
		}
		sum.TopTrialIDs = append(sum.TopTrialIDs, assessments[i].TrialID)
	}
	return sum
}
