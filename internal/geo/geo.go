// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package geo matches a patient's free-text location against trial sites.
package geo

import (
	"strings"

	"github.com/pdiddy/trialmatch/pkg/types"
)

var usStates = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas", "ca": "california",
	"co": "colorado", "ct": "connecticut", "de": "delaware", "fl": "florida", "ga": "georgia",
	"hi": "hawaii", "id": "idaho", "il": "illinois", "in": "indiana", "ia": "iowa",
	"ks": "kansas", "ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
	"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi", "mo": "missouri",
	"mt": "montana", "ne": "nebraska", "nv": "nevada", "nh": "new hampshire", "nj": "new jersey",
	"nm": "new mexico", "ny": "new york", "nc": "north carolina", "nd": "north dakota", "oh": "ohio",
	"ok": "oklahoma", "or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
	"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah", "vt": "vermont",
	"va": "virginia", "wa": "washington", "wv": "west virginia", "wi": "wisconsin", "wy": "wyoming",
	"dc": "district of columbia", "pr": "puerto rico",
}

// Tokens splits a location like "Boston, MA" into lower-case parts, with
// two-letter US state codes expanded to the state name.
func Tokens(location string) []string {
	var out []string
	for _, part := range strings.Split(location, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		if full, ok := usStates[p]; ok {
			p = full
		}
		out = append(out, p)
	}
	return out
}

// Matches reports whether any part of the patient's location matches the
// site's city or state. Matching is a case-insensitive substring test in
// either direction.
func Matches(patientLocation string, site types.TrialLocation) bool {
	city := strings.ToLower(strings.TrimSpace(site.City))
	state := strings.ToLower(strings.TrimSpace(site.State))
	if full, ok := usStates[state]; ok {
		state = full
	}
	for _, tok := range Tokens(patientLocation) {
		if overlaps(tok, city) || overlaps(tok, state) {
			return true
		}
	}
	return false
}

func overlaps(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// MatchingSites returns the labels of sites matching patientLocation.
func MatchingSites(patientLocation string, sites []types.TrialLocation) []string {
	out := []string{}
	for _, s := range sites {
		if Matches(patientLocation, s) {
			out = append(out, s.Label())
		}
	}
	return out
}
