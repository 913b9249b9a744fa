// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"regexp"
	"strings"
)

var (
	inclusionHeader = regexp.MustCompile(`(?i)inclusion criteria\s*:`)
	exclusionHeader = regexp.MustCompile(`(?i)exclusion criteria\s*:`)
	bulletPrefix    = regexp.MustCompile(`^(?:[*\-•·]+\s*|\d+[.)]\s+)`)
)

// ParseCriteria splits registry eligibility text into inclusion and
// exclusion lines. Text without the "Inclusion Criteria:" and
// "Exclusion Criteria:" headers yields two empty lists.
func ParseCriteria(text string) (inclusion, exclusion []string) {
	inclusion, exclusion = []string{}, []string{}

	inc := inclusionHeader.FindStringIndex(text)
	exc := exclusionHeader.FindStringIndex(text)

	switch {
	case inc != nil && exc != nil && inc[0] < exc[0]:
		inclusion = splitCriteria(text[inc[1]:exc[0]])
		exclusion = splitCriteria(text[exc[1]:])
	case inc != nil && exc != nil:
		exclusion = splitCriteria(text[exc[1]:inc[0]])
		inclusion = splitCriteria(text[inc[1]:])
	case inc != nil:
		inclusion = splitCriteria(text[inc[1]:])
	case exc != nil:
		exclusion = splitCriteria(text[exc[1]:])
	}
	return inclusion, exclusion
}

func splitCriteria(section string) []string {
	lines := []string{}
	for _, raw := range strings.Split(section, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
