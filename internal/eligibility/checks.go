// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package eligibility

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/trialmatch/internal/geo"
	"github.com/pdiddy/trialmatch/pkg/types"
)

var (
	firstInt          = regexp.MustCompile(`\d+`)
	ageUnit           = regexp.MustCompile(`(?i)\b(month|week|day)s?\b`)
	biomarkerLanguage = regexp.MustCompile(`(?i)\b(mutation|mutated|positive|negative|expression|amplification|biomarker|fusion|rearrangement)\b`)
)

// ParseAgeBound returns the first integer in an age string such as
// "18 Years", in whole years. Months, weeks and days are converted down.
// It returns def when s has no integer.
func ParseAgeBound(s string, def int) int {
	m := firstInt.FindString(s)
	if m == "" {
		return def
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return def
	}
	switch u := ageUnit.FindStringSubmatch(s); {
	case u == nil:
	case strings.EqualFold(u[1], "month"):
		n /= 12
	case strings.EqualFold(u[1], "week"):
		n /= 52
	case strings.EqualFold(u[1], "day"):
		n /= 365
	}
	return n
}

// CheckAge reports whether age falls within the trial's bounds. A missing
// minimum is 0 and a missing maximum is 999.
func CheckAge(age int, c types.Criteria) types.Verdict {
	if strings.TrimSpace(c.MinAge) == "" && strings.TrimSpace(c.MaxAge) == "" {
		return types.Verdict{Eligible: true, Reason: "no age restriction"}
	}
	lo := ParseAgeBound(c.MinAge, 0)
	hi := ParseAgeBound(c.MaxAge, 999)
	if age >= lo && age <= hi {
		return types.Verdict{Eligible: true, Reason: fmt.Sprintf("age %d within %s", age, ageRange(lo, hi))}
	}
	return types.Verdict{Eligible: false, Reason: fmt.Sprintf("age %d outside %s", age, ageRange(lo, hi))}
}

func ageRange(lo, hi int) string {
	if hi == 999 {
		return fmt.Sprintf("%d+", lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// CheckLocation matches the patient's location against the trial's sites.
// Without a patient location every site is available.
func CheckLocation(location string, sites []types.TrialLocation) types.LocationVerdict {
	if strings.TrimSpace(location) == "" {
		all := make([]string, 0, len(sites))
		for _, s := range sites {
			all = append(all, s.Label())
		}
		return types.LocationVerdict{
			Verdict:            types.Verdict{Eligible: true, Reason: "no patient location given; all sites listed"},
			AvailableLocations: all,
		}
	}
	matched := geo.MatchingSites(location, sites)
	if len(matched) == 0 {
		return types.LocationVerdict{
			Verdict:            types.Verdict{Eligible: false, Reason: fmt.Sprintf("no site near %s", location)},
			AvailableLocations: matched,
		}
	}
	return types.LocationVerdict{
		Verdict:            types.Verdict{Eligible: true, Reason: fmt.Sprintf("%d site(s) near %s", len(matched), location)},
		AvailableLocations: matched,
	}
}

// CheckMedications reports whether any inclusion line mentions a patient
// medication, and returns the matching lines.
func CheckMedications(meds []string, inclusion []string) (types.Verdict, []string) {
	matches := []string{}
	var matchedMeds []string
	for _, line := range inclusion {
		l := strings.ToLower(line)
		for _, m := range meds {
			m = strings.TrimSpace(m)
			if m == "" || !strings.Contains(l, strings.ToLower(m)) {
				continue
			}
			matches = appendUnique(matches, line)
			matchedMeds = appendUnique(matchedMeds, m)
		}
	}
	switch {
	case len(meds) == 0:
		return types.Verdict{Eligible: false, Reason: "no patient medications listed"}, matches
	case len(matchedMeds) == 0:
		return types.Verdict{Eligible: false, Reason: "no inclusion criterion mentions a current medication"}, matches
	default:
		return types.Verdict{Eligible: true, Reason: "inclusion criteria mention " + strings.Join(matchedMeds, ", ")}, matches
	}
}

// CheckExclusions returns the exclusion lines mentioning a patient
// comorbidity.
func CheckExclusions(comorbidities []string, exclusion []string) []string {
	conflicts := []string{}
	for _, line := range exclusion {
		l := strings.ToLower(line)
		for _, c := range comorbidities {
			c = strings.TrimSpace(c)
			if c != "" && strings.Contains(l, strings.ToLower(c)) {
				conflicts = appendUnique(conflicts, line)
				break
			}
		}
	}
	return conflicts
}

// CheckBiomarkers is advisory and does not contribute to the score. It
// fails only when inclusion criteria use biomarker language and none of the
// patient's biomarkers appear.
func CheckBiomarkers(biomarkers []string, inclusion []string) types.Verdict {
	var mentioned []string
	requires := false
	for _, line := range inclusion {
		l := strings.ToLower(line)
		if biomarkerLanguage.MatchString(line) {
			requires = true
		}
		for _, b := range biomarkers {
			if b != "" && strings.Contains(l, strings.ToLower(b)) {
				mentioned = appendUnique(mentioned, b)
			}
		}
	}
	switch {
	case len(mentioned) > 0:
		return types.Verdict{Eligible: true, Reason: "inclusion criteria reference " + strings.Join(mentioned, ", ")}
	case requires:
		return types.Verdict{Eligible: false, Reason: "inclusion criteria require a biomarker not in the profile"}
	default:
		return types.Verdict{Eligible: true, Reason: "no biomarker requirement detected"}
	}
}
