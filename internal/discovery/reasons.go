// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discovery

import (
	"fmt"
	"strings"

	"github.com/pdiddy/trialmatch/internal/geo"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// MatchReasons explains why a trial was surfaced. The strings are advisory
// and never feed the eligibility score.
func MatchReasons(p types.PatientProfile, terms []string, t types.CandidateTrial) []string {
	reasons := []string{}

	haystack := strings.ToLower(strings.Join(append([]string{t.Title, t.Condition}, t.Conditions...), " "))
	for _, term := range terms {
		if term == types.UnknownCondition {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(term)) {
			reasons = append(reasons, "Condition match: "+term)
		}
	}

	switch c := t.Criteria; {
	case c.MinAge != "" && c.MaxAge != "":
		reasons = append(reasons, fmt.Sprintf("Age criteria: %s to %s", c.MinAge, c.MaxAge))
	case c.MinAge != "":
		reasons = append(reasons, fmt.Sprintf("Age criteria: %s and older", c.MinAge))
	case c.MaxAge != "":
		reasons = append(reasons, fmt.Sprintf("Age criteria: up to %s", c.MaxAge))
	default:
		reasons = append(reasons, "No age restriction listed")
	}

	if p.Location != "" {
		if sites := geo.MatchingSites(p.Location, t.Locations); len(sites) > 0 {
			reasons = append(reasons, fmt.Sprintf("Site near patient: %s", sites[0]))
		}
	}

	switch t.DiscoveredBy {
	case types.DiscoveredFallback:
		reasons = append(reasons, "Found by broadened search")
	case types.DiscoveredSynthetic:
		reasons = append(reasons, "Synthetic placeholder, registry unavailable")
	}
	return reasons
}
