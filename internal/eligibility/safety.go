// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eligibility

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/trialmatch/pkg/types"
)

const maxDescription = 240

var interventionSplit = regexp.MustCompile(`(?i)\s*(?:,|;|/|\+|\band\b|\bplus\b)\s*`)

// Severity grades label text. Contraindications are CRITICAL, boxed
// warnings and "avoid"/"serious"/"fatal" language are HIGH, "monitor" and
// "caution" are MODERATE, anything else is LOW.
func Severity(text string, boxed bool) types.Severity {
	l := strings.ToLower(text)
	switch {
	case strings.Contains(l, "contraindicated"):
		return types.SeverityCritical
	case boxed, strings.Contains(l, "avoid"), strings.Contains(l, "serious"), strings.Contains(l, "fatal"):
		return types.SeverityHigh
	case strings.Contains(l, "monitor"), strings.Contains(l, "caution"):
		return types.SeverityModerate
	default:
		return types.SeverityLow
	}
}

// Interactions derives the findings relevant to one trial from the patient's
// label signals: boxed warnings, label text naming another patient
// medication, and label text naming one of the trial's interventions.
func Interactions(meds []string, t types.CandidateTrial, signals []types.SafetySignal) []types.DrugInteraction {
	out := []types.DrugInteraction{}
	others := interventionNames(t.Intervention)

	for _, sig := range signals {
		for _, w := range sig.BoxedWarning {
			out = append(out, types.DrugInteraction{
				Drug:        sig.Drug,
				Severity:    Severity(w, true),
				Description: truncate(w),
			})
		}

		texts := append(append([]string{}, sig.Contraindications...), sig.Interactions...)
		seen := map[string]bool{}
		for _, text := range texts {
			l := strings.ToLower(text)
			for _, m := range meds {
				if m == "" || strings.EqualFold(m, sig.Drug) || seen[strings.ToLower(m)] {
					continue
				}
				if strings.Contains(l, strings.ToLower(m)) {
					seen[strings.ToLower(m)] = true
					out = append(out, types.DrugInteraction{
						Drug: sig.Drug, InteractsWith: m, Severity: Severity(text, false), Description: truncate(text),
					})
				}
			}
			for _, iv := range others {
				if strings.EqualFold(iv, sig.Drug) || seen[iv] {
					continue
				}
				if strings.Contains(l, iv) {
					seen[iv] = true
					out = append(out, types.DrugInteraction{
						Drug: sig.Drug, InteractsWith: iv, Severity: Severity(text, false), Description: truncate(text),
					})
				}
			}
		}
	}
	return out
}

// interventionNames splits a trial intervention into lower-case drug names,
// dropping placebo and very short fragments.
func interventionNames(intervention string) []string {
	var out []string
	for _, part := range interventionSplit.Split(intervention, -1) {
		p := strings.ToLower(strings.TrimSpace(part))
		if len(p) < 4 || p == "placebo" || p == "standard of care" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxDescription {
		return s
	}
	cut := maxDescription
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
