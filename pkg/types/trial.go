// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// TrialStatus is a registry overall-status value.
type TrialStatus string

const (
	StatusRecruiting          TrialStatus = "RECRUITING"
	StatusActiveNotRecruiting TrialStatus = "ACTIVE_NOT_RECRUITING"
	StatusNotYetRecruiting    TrialStatus = "NOT_YET_RECRUITING"
	StatusEnrollingByInvite   TrialStatus = "ENROLLING_BY_INVITATION"
	StatusCompleted           TrialStatus = "COMPLETED"
)

// DiscoverySource records which search produced a trial.
type DiscoverySource string

const (
	DiscoveredPrimary   DiscoverySource = "primary"
	DiscoveredFallback  DiscoverySource = "fallback"
	DiscoveredSynthetic DiscoverySource = "synthetic"
)

// Criteria is the parsed eligibility section of a trial record.
type Criteria struct {
	Inclusion []string `json:"inclusion" yaml:"inclusion"`
	Exclusion []string `json:"exclusion" yaml:"exclusion"`

	// MinAge and MaxAge are kept as the registry's strings (e.g. "18 Years").
	MinAge string `json:"min_age,omitempty" yaml:"min_age,omitempty"`
	MaxAge string `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	Sex    string `json:"sex,omitempty" yaml:"sex,omitempty"`
}

// Contact is a named person attached to a trial site.
type Contact struct {
	Name  string `json:"name" yaml:"name"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

// TrialLocation is one recruiting site.
type TrialLocation struct {
	Facility string    `json:"facility" yaml:"facility"`
	City     string    `json:"city" yaml:"city"`
	State    string    `json:"state,omitempty" yaml:"state,omitempty"`
	Country  string    `json:"country" yaml:"country"`
	Status   string    `json:"status,omitempty" yaml:"status,omitempty"`
	Contacts []Contact `json:"contacts,omitempty" yaml:"contacts,omitempty"`
}

// Label formats the location for display.
func (l TrialLocation) Label() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{l.Facility, l.City, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// LiteratureReference is a publication attached to a single trial. Each
// attachment is an independent copy.
type LiteratureReference struct {
	SourceID        string   `json:"source_id" yaml:"source_id"`
	Title           string   `json:"title" yaml:"title"`
	Authors         []string `json:"authors" yaml:"authors"`
	Journal         string   `json:"journal,omitempty" yaml:"journal,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty" yaml:"publication_date,omitempty"`
	URL             string   `json:"url" yaml:"url"`
}

// CandidateTrial is a registry study returned by discovery. Its ID is the
// idempotency key for literature lookups and caching.
type CandidateTrial struct {
	ID              string          `json:"id" yaml:"id"`
	Title           string          `json:"title" yaml:"title"`
	Status          TrialStatus     `json:"status" yaml:"status"`
	Phase           string          `json:"phase,omitempty" yaml:"phase,omitempty"`
	StudyType       string          `json:"study_type,omitempty" yaml:"study_type,omitempty"`
	Condition       string          `json:"condition" yaml:"condition"`
	Conditions      []string        `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Intervention    string          `json:"intervention" yaml:"intervention"`
	Criteria        Criteria        `json:"criteria" yaml:"criteria"`
	Locations       []TrialLocation `json:"locations" yaml:"locations"`
	CentralContacts []string        `json:"central_contacts,omitempty" yaml:"central_contacts,omitempty"`
	Officials       []string        `json:"officials,omitempty" yaml:"officials,omitempty"`
	URL             string          `json:"url" yaml:"url"`
	Enrollment      int             `json:"enrollment,omitempty" yaml:"enrollment,omitempty"`
	StartDate       string          `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	CompletionDate  string          `json:"completion_date,omitempty" yaml:"completion_date,omitempty"`

	Literature   []LiteratureReference `json:"literature" yaml:"literature"`
	MatchReasons []string              `json:"match_reasons" yaml:"match_reasons"`
	DiscoveredBy DiscoverySource       `json:"discovered_by" yaml:"discovered_by"`
	Synthetic    bool                  `json:"synthetic,omitempty" yaml:"synthetic,omitempty"`
}

// LiteratureQuery is the per-trial literature search string.
func (t CandidateTrial) LiteratureQuery() string {
	switch {
	case t.Intervention == "":
		return t.Condition
	case t.Condition == "":
		return t.Intervention
	default:
		return t.Intervention + " " + t.Condition
	}
}

// SafetySignal summarizes one drug label from the drug-safety source.
type SafetySignal struct {
	Drug              string   `json:"drug" yaml:"drug"`
	BoxedWarning      []string `json:"boxed_warning,omitempty" yaml:"boxed_warning,omitempty"`
	Warnings          []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Interactions      []string `json:"interactions,omitempty" yaml:"interactions,omitempty"`
	Contraindications []string `json:"contraindications,omitempty" yaml:"contraindications,omitempty"`
}

// HasBoxedWarning reports whether the label carries a boxed warning.
func (s SafetySignal) HasBoxedWarning() bool {
	return len(s.BoxedWarning) > 0
}
