// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package profile

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// MethodRules and MethodRulesLLM record how a profile was extracted.
const (
	MethodRules    = "rules"
	MethodRulesLLM = "rules+llm"
)

var (
	agePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,3})[- ]?(?:years?|yrs?|y)[- ]?old\b`),
		regexp.MustCompile(`(?i)\bage[d]?\s*[:=]?\s*(\d{1,3})\b`),
		regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:yo|y/o|y\.o\.)`),
		regexp.MustCompile(`\b(\d{1,3})\s?[MF]\b`),
	}

	femalePattern = regexp.MustCompile(`(?i)\b(female|woman|lady)\b|\b\d{1,3}\s?F\b`)
	malePattern   = regexp.MustCompile(`(?i)\b(male|man|gentleman)\b|\b\d{1,3}\s?M\b`)

	diagnosedPattern = regexp.MustCompile(`(?i)\bdiagnos(?:ed|is)\s*(?:with|of|:)?\s*([^.;\n]+)`)
	clauseCut        = regexp.MustCompile(`(?i)\s+(?:in|since|at|and|on|who|which|for)\s+.*$|,.*$`)

	dosePattern = regexp.MustCompile(`(?i)\b([a-z][a-z-]{3,})\s+\d+(?:\.\d+)?\s*(?:mg|mcg|units?|iu)\b`)

	biomarkerPattern = regexp.MustCompile(`\b(HER2|EGFR|ALK|KRAS|BRAF|PD-L1|BRCA1|BRCA2|MSI-H|ROS1|NTRK|ER|PR)(?:\s*(?:[+-]|positive|negative|mutation|mutated|amplified|V600E|G12C|high|low|\d+%))+`)

	labPatterns = map[string]*regexp.Regexp{
		"hba1c":       regexp.MustCompile(`(?i)\b(?:hba1c|a1c)\s*(?:of|:|=|was|is|at)?\s*(\d+(?:\.\d+)?)`),
		"egfr":        regexp.MustCompile(`\be?GFR\s*(?:of|:|=|was|is|at)?\s*(\d+(?:\.\d+)?)`),
		"creatinine":  regexp.MustCompile(`(?i)\bcreatinine\s*(?:of|:|=|was|is|at)?\s*(\d+(?:\.\d+)?)`),
		"glucose":     regexp.MustCompile(`(?i)\b(?:fasting\s+)?glucose\s*(?:of|:|=|was|is|at)?\s*(\d+(?:\.\d+)?)`),
		"cholesterol": regexp.MustCompile(`(?i)\b(?:total\s+)?cholesterol\s*(?:of|:|=|was|is|at)?\s*(\d+(?:\.\d+)?)`),
	}
	bpPattern = regexp.MustCompile(`(?i)\b(?:bp|blood pressure)\s*(?:of|:|=|was|is|at)?\s*(\d{2,3})\s*/\s*(\d{2,3})`)

	locationPattern    = regexp.MustCompile(`\b(?:[Ll]ives|[Rr]esides|[Ll]ocated|[Bb]ased)\s+in\s+([A-Z][A-Za-z'-]*(?:\s+[A-Z][A-Za-z'-]*)*(?:,\s*[A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)?)?)`)
	insurancePattern   = regexp.MustCompile(`(?i)\b(medicare advantage|medicare|medicaid|tricare|private insurance|commercial insurance|uninsured|no insurance)\b`)
	hospitalPattern    = regexp.MustCompile(`(?i)\b(recently hospitali[sz]ed|recent hospitali[sz]ation|hospitali[sz]ed (?:last|in the past|recently|\d+ (?:days?|weeks?|months?) ago)|admitted to (?:the )?hospital)`)
	packYearsPattern   = regexp.MustCompile(`(?i)\b(\d+)\s*pack[- ]years?\b`)
	smokingPattern     = regexp.MustCompile(`(?i)\b(never smoker|never smoked|non-?smoker|former smoker|ex-smoker|quit smoking|current smoker|smokes|active smoker)\b`)
	performancePattern = regexp.MustCompile(`(?i)\b(ecog(?:\s*ps)?\s*(?:of|:|=)?\s*[0-4]|karnofsky\s*(?:of|:|=)?\s*\d{2,3}%?|kps\s*(?:of|:|=)?\s*\d{2,3}%?)`)
)

// Parse extracts a profile from free text with regular expressions and
// fixed vocabularies. Non-zero demographics override the text. Empty text
// without demographics is a validation error.
func Parse(text string, demo *types.Demographics) (types.PatientProfile, error) {
	p, _, err := parse(text, demo)
	return p, err
}

// parse is Parse that also reports whether the age came from the text or
// the demographics rather than DefaultAge.
func parse(text string, demo *types.Demographics) (types.PatientProfile, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" && demographicsEmpty(demo) {
		return types.PatientProfile{}, false, failure.Validation("patient text and demographics are both empty")
	}
	lower := strings.ToLower(text)
	age, ageKnown := parseAge(text)

	p := types.PatientProfile{
		Age:               age,
		Sex:               parseSex(text),
		Location:          parseLocation(text),
		Insurance:         firstMatch(insurancePattern, text),
		SmokingHistory:    parseSmoking(text),
		PerformanceStatus: normalizeSpace(firstMatch(performancePattern, text)),
		LabValues:         parseLabs(text),
		ExtractionMethod:  MethodRules,
	}
	p.RecentHospitalization = hospitalPattern.MatchString(text)

	p.Diagnosis = parseDiagnosis(text, lower)
	p.Comorbidities = findTerms(lower, conditions, p.Diagnosis)
	p.Medications = parseMedications(text, lower)
	p.Biomarkers = parseBiomarkers(text)
	p.PriorTreatments = findTerms(lower, treatments, "")

	if demo != nil {
		if demo.Age >= 1 && demo.Age <= 120 {
			p.Age = demo.Age
			ageKnown = true
		}
		if s := strings.TrimSpace(demo.Location); s != "" {
			p.Location = s
		}
		if s := normalizeSex(demo.Sex); s != "" {
			p.Sex = s
		}
	}
	if p.Diagnosis == "" {
		p.Diagnosis = types.UnknownCondition
	}
	return p, ageKnown, nil
}

func demographicsEmpty(d *types.Demographics) bool {
	return d == nil || (d.Age == 0 && strings.TrimSpace(d.Location) == "" && strings.TrimSpace(d.Sex) == "")
}

// parseAge returns the first plausible age in text. It returns DefaultAge
// and false when there is none.
func parseAge(text string) (int, bool) {
	for _, re := range agePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 120 {
				return n, true
			}
		}
	}
	return types.DefaultAge, false
}

func parseSex(text string) string {
	f := femalePattern.FindStringIndex(text)
	m := malePattern.FindStringIndex(text)
	switch {
	case f != nil && (m == nil || f[0] <= m[0]):
		return "female"
	case m != nil:
		return "male"
	}
	return ""
}

func normalizeSex(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f", "female", "woman":
		return "female"
	case "m", "male", "man":
		return "male"
	}
	return ""
}

func parseDiagnosis(text, lower string) string {
	if m := diagnosedPattern.FindStringSubmatch(text); m != nil {
		phrase := strings.TrimSpace(m[1])
		if t, ok := firstTerm(strings.ToLower(phrase), conditions); ok {
			return t.display
		}
		phrase = strings.TrimSpace(clauseCut.ReplaceAllString(phrase, ""))
		phrase = strings.TrimPrefix(strings.TrimPrefix(phrase, "a "), "an ")
		if phrase != "" {
			return phrase
		}
	}
	if t, ok := firstTerm(lower, conditions); ok {
		return t.display
	}
	return ""
}

// firstTerm returns the vocabulary term that occurs earliest in lower.
// Longer terms win ties.
func firstTerm(lower string, vocab []term) (term, bool) {
	best, bestAt := term{}, -1
	for _, t := range vocab {
		at := indexWord(lower, t.match)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(t.match) > len(best.match)) {
			best, bestAt = t, at
		}
	}
	return best, bestAt >= 0
}

// findTerms returns the display names of vocabulary terms present in lower,
// in order of first appearance, without duplicates or exclude. A term found
// inside a longer, earlier-listed term ("lung cancer" inside "non-small cell
// lung cancer") is skipped.
func findTerms(lower string, vocab []term, exclude string) []string {
	type hit struct {
		at      int
		display string
	}
	var (
		hits  []hit
		spans [][2]int
	)
	seen := map[string]bool{strings.ToLower(exclude): true}
	for _, t := range vocab {
		at := indexWord(lower, t.match)
		if at < 0 {
			continue
		}
		end := at + len(t.match)
		covered := false
		for _, sp := range spans {
			if at >= sp[0] && end <= sp[1] {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		spans = append(spans, [2]int{at, end})
		key := strings.ToLower(t.display)
		if seen[key] {
			continue
		}
		seen[key] = true
		hits = append(hits, hit{at, t.display})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at < hits[j].at })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.display)
	}
	return out
}

// indexWord finds word in s at word boundaries.
func indexWord(s, word string) int {
	from := 0
	for {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(word)
		if (i == 0 || !isWordByte(s[i-1])) && (end == len(s) || !isWordByte(s[end])) {
			return i
		}
		from = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func parseMedications(text, lower string) []string {
	type hit struct {
		at   int
		name string
	}
	var hits []hit
	seen := map[string]bool{}
	add := func(at int, name string) {
		k := strings.ToLower(name)
		if seen[k] {
			return
		}
		for s := range seen {
			// "insulin glargine" already covers "insulin".
			if strings.Contains(s, k) || strings.Contains(k, s) {
				return
			}
		}
		seen[k] = true
		hits = append(hits, hit{at, capitalize(k)})
	}
	for _, med := range medications {
		if at := indexWord(lower, med); at >= 0 {
			add(at, med)
		}
	}
	for _, m := range dosePattern.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[m[2]:m[3]])
		if isLabName(name) {
			continue
		}
		add(m[2], name)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].at < hits[j].at })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.name)
	}
	return out
}

func isLabName(s string) bool {
	switch s {
	case "glucose", "creatinine", "cholesterol", "hba1c", "egfr", "dose", "daily", "takes", "taking":
		return true
	}
	return false
}

func parseBiomarkers(text string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, m := range biomarkerPattern.FindAllString(text, -1) {
		m = normalizeSpace(m)
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func parseLabs(text string) types.LabValues {
	var labs types.LabValues
	num := func(key string) *float64 {
		m := labPatterns[key].FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if v, err := strconv.ParseFloat(g, 64); err == nil {
				return &v
			}
		}
		return nil
	}
	labs.HbA1c = num("hba1c")
	labs.EGFR = num("egfr")
	labs.Creatinine = num("creatinine")
	labs.Glucose = num("glucose")
	labs.Cholesterol = num("cholesterol")
	if m := bpPattern.FindStringSubmatch(text); m != nil {
		sys, _ := strconv.Atoi(m[1])
		dia, _ := strconv.Atoi(m[2])
		labs.BloodPressure = &types.BloodPressure{Systolic: sys, Diastolic: dia}
	}
	return labs
}

func parseLocation(text string) string {
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(strings.TrimSpace(m[1]), ".")
	}
	return ""
}

func parseSmoking(text string) string {
	if m := packYearsPattern.FindStringSubmatch(text); m != nil {
		return m[1] + " pack-years"
	}
	switch s := strings.ToLower(firstMatch(smokingPattern, text)); s {
	case "":
		return ""
	case "never smoker", "never smoked", "nonsmoker", "non-smoker":
		return "never"
	case "former smoker", "ex-smoker", "quit smoking":
		return "former"
	default:
		return "current"
	}
}

func firstMatch(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
