// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/httputil"
	"github.com/pdiddy/trialmatch/internal/ratecache"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// registryAPIBase is the ClinicalTrials.gov v2 API root. Declared as a var
// so tests can substitute an httptest server.
var registryAPIBase = "https://clinicaltrials.gov/api/v2"

const (
	registryStudyURL    = "https://clinicaltrials.gov/study/"
	registryTimeout     = 15 * time.Second
	defaultPageSize     = 20
	defaultSortOrder    = "@relevance"
	SyntheticTrialID    = "SYNTHETIC-0001"
	maxFallbackPageSize = 50
)

// DefaultStatuses is the status filter when completed trials are not
// requested.
var DefaultStatuses = []types.TrialStatus{types.StatusRecruiting, types.StatusActiveNotRecruiting}

// BroadStatuses is the widened status filter of a fallback search.
var BroadStatuses = []types.TrialStatus{
	types.StatusRecruiting,
	types.StatusActiveNotRecruiting,
	types.StatusNotYetRecruiting,
	types.StatusEnrollingByInvite,
	types.StatusCompleted,
}

// SearchRequest is a primary registry search.
type SearchRequest struct {
	Condition           string
	SecondaryConditions []string
	Age                 int
	Sex                 string
	Statuses            []types.TrialStatus
	Location            string
	Phases              []string
	MaxResults          int
	SortOrder           string
}

// Broaden derives the single fallback search for r: secondary conditions,
// location and phase filters are dropped, the status filter is widened and
// the page size doubled.
func (r SearchRequest) Broaden() FallbackSearch {
	size := r.MaxResults
	if size <= 0 {
		size = defaultPageSize
	}
	size *= 2
	if size > maxFallbackPageSize {
		size = maxFallbackPageSize
	}
	return FallbackSearch{
		Condition:  r.Condition,
		Age:        r.Age,
		Sex:        r.Sex,
		Statuses:   append([]types.TrialStatus(nil), BroadStatuses...),
		MaxResults: size,
	}
}

// FallbackSearch is a broadened search. It can only be obtained from
// SearchRequest.Broaden and offers no way to broaden further.
type FallbackSearch struct {
	Condition  string
	Age        int
	Sex        string
	Statuses   []types.TrialStatus
	MaxResults int
}

// IsFallback is always true.
func (FallbackSearch) IsFallback() bool { return true }

// registryQuery is the canonical parameter set; it is the cache key.
type registryQuery struct {
	Cond       string `json:"cond"`
	Statuses   string `json:"statuses"`
	Location   string `json:"location,omitempty"`
	AggFilters string `json:"agg_filters,omitempty"`
	PageSize   int    `json:"page_size"`
	Sort       string `json:"sort"`
	Fallback   bool   `json:"fallback"`
}

func (q registryQuery) values() url.Values {
	v := url.Values{
		"format":               {"json"},
		"query.cond":           {q.Cond},
		"filter.overallStatus": {q.Statuses},
		"pageSize":             {strconv.Itoa(q.PageSize)},
		"sort":                 {q.Sort},
	}
	if q.Location != "" {
		v.Set("query.locn", q.Location)
	}
	if q.AggFilters != "" {
		v.Set("aggFilters", q.AggFilters)
	}
	return v
}

// AgeBucket maps an exact age to the registry's coarse age filter.
func AgeBucket(age int) string {
	switch {
	case age <= 0:
		return ""
	case age < 18:
		return "child"
	case age < 65:
		return "adult"
	default:
		return "older"
	}
}

func sexFilter(sex string) string {
	switch strings.ToLower(strings.TrimSpace(sex)) {
	case "f", "female", "woman":
		return "f"
	case "m", "male", "man":
		return "m"
	}
	return ""
}

func phaseFilter(phases []string) string {
	var out []string
	for _, p := range phases {
		p = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(p), " ", ""))
		switch {
		case p == "EARLY_PHASE1" || p == "EARLYPHASE1":
			out = append(out, "0")
		case strings.HasPrefix(p, "PHASE"):
			out = append(out, strings.TrimPrefix(p, "PHASE"))
		case p != "":
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func aggFilters(age int, sex string, phases []string) string {
	var parts []string
	if b := AgeBucket(age); b != "" {
		parts = append(parts, "ages:"+b)
	}
	if s := sexFilter(sex); s != "" {
		parts = append(parts, "sex:"+s)
	}
	if p := phaseFilter(phases); p != "" {
		parts = append(parts, "phase:"+p)
	}
	return strings.Join(parts, ",")
}

func statusList(statuses []types.TrialStatus) string {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	s := make([]string, len(statuses))
	for i, st := range statuses {
		s[i] = string(st)
	}
	return strings.Join(s, ",")
}

// conditionQuery joins the primary and secondary terms into one OR query,
// skipping duplicates.
func conditionQuery(primary string, secondary []string) string {
	seen := map[string]bool{}
	var terms []string
	for _, t := range append([]string{primary}, secondary...) {
		t = strings.TrimSpace(t)
		k := strings.ToLower(t)
		if t == "" || seen[k] {
			continue
		}
		seen[k] = true
		terms = append(terms, t)
	}
	return strings.Join(terms, " OR ")
}

// RegistryClient searches ClinicalTrials.gov.
type RegistryClient struct {
	http          *resty.Client
	cache         *ratecache.Cache
	mockOnFailure bool
	logger        *zap.Logger
}

// NewRegistryClient builds a registry client. With mockOnFailure set, an
// unavailable upstream yields one synthetic trial instead of an error.
func NewRegistryClient(cfg types.SourceConfig, cache *ratecache.Cache, mockOnFailure bool, logger *zap.Logger) *RegistryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistryClient{
		http:          httputil.NewClient(cfg.HTTPConfig, registryAPIBase, registryTimeout),
		cache:         cache,
		mockOnFailure: mockOnFailure,
		logger:        logger,
	}
}

// Search runs a primary search.
func (c *RegistryClient) Search(ctx context.Context, req SearchRequest) ([]types.CandidateTrial, error) {
	if strings.TrimSpace(req.Condition) == "" {
		return nil, failure.Validation("registry search requires a condition")
	}
	size := req.MaxResults
	if size <= 0 {
		size = defaultPageSize
	}
	sort := req.SortOrder
	if sort == "" {
		sort = defaultSortOrder
	}
	q := registryQuery{
		Cond:       conditionQuery(req.Condition, req.SecondaryConditions),
		Statuses:   statusList(req.Statuses),
		Location:   strings.TrimSpace(req.Location),
		AggFilters: aggFilters(req.Age, req.Sex, req.Phases),
		PageSize:   size,
		Sort:       sort,
	}
	return c.run(ctx, q, req.Condition, types.DiscoveredPrimary)
}

// SearchFallback runs a broadened search.
func (c *RegistryClient) SearchFallback(ctx context.Context, req FallbackSearch) ([]types.CandidateTrial, error) {
	if strings.TrimSpace(req.Condition) == "" {
		return nil, failure.Validation("registry search requires a condition")
	}
	size := req.MaxResults
	if size <= 0 {
		size = defaultPageSize
	}
	q := registryQuery{
		Cond:       conditionQuery(req.Condition, nil),
		Statuses:   statusList(req.Statuses),
		AggFilters: aggFilters(req.Age, req.Sex, nil),
		PageSize:   size,
		Sort:       defaultSortOrder,
		Fallback:   true,
	}
	return c.run(ctx, q, req.Condition, types.DiscoveredFallback)
}

func (c *RegistryClient) run(ctx context.Context, q registryQuery, condition string, by types.DiscoverySource) ([]types.CandidateTrial, error) {
	trials, _, err := ratecache.Call(ctx, c.cache, SourceRegistry, q, func(ctx context.Context) ([]types.CandidateTrial, error) {
		return c.fetch(ctx, q)
	})
	if err != nil {
		kind := failure.KindOf(err)
		if c.mockOnFailure && (kind == failure.KindSourceUnavailable || kind == failure.KindMalformedResponse) {
			c.logger.Warn("registry unavailable, returning synthetic trial",
				zap.String("source", SourceRegistry), zap.Error(err))
			return []types.CandidateTrial{SyntheticTrial(condition)}, nil
		}
		return nil, err
	}
	for i := range trials {
		trials[i].DiscoveredBy = by
	}
	return trials, nil
}

func (c *RegistryClient) fetch(ctx context.Context, q registryQuery) ([]types.CandidateTrial, error) {
	var resp studiesResponse
	if err := httputil.GetJSON(ctx, c.http, SourceRegistry, "/studies", q.values(), &resp); err != nil {
		if failure.KindOf(err) == failure.KindUnknown {
			// 404 from the registry means the endpoint moved, not "no results".
			return nil, failure.SourceUnavailable(SourceRegistry, err)
		}
		return nil, err
	}
	trials := make([]types.CandidateTrial, 0, len(resp.Studies))
	for _, s := range resp.Studies {
		t, ok := s.toTrial()
		if ok {
			trials = append(trials, t)
		}
	}
	return trials, nil
}

// SyntheticTrial returns the placeholder trial used when the registry is
// unavailable and mock mode is on. It performs no I/O.
func SyntheticTrial(condition string) types.CandidateTrial {
	if strings.TrimSpace(condition) == "" {
		condition = types.UnknownCondition
	}
	return types.CandidateTrial{
		ID:           SyntheticTrialID,
		Title:        fmt.Sprintf("Synthetic placeholder study for %s", condition),
		Status:       types.StatusRecruiting,
		Phase:        "NA",
		StudyType:    "INTERVENTIONAL",
		Condition:    condition,
		Conditions:   []string{condition},
		Intervention: "Standard of care",
		Criteria: types.Criteria{
			Inclusion: []string{"Diagnosis of " + condition},
			Exclusion: []string{},
			MinAge:    "18 Years",
			Sex:       "ALL",
		},
		Locations:    []types.TrialLocation{},
		URL:          registryStudyURL + SyntheticTrialID,
		Literature:   []types.LiteratureReference{},
		MatchReasons: []string{},
		DiscoveredBy: types.DiscoveredSynthetic,
		Synthetic:    true,
	}
}

// ClinicalTrials.gov v2 JSON structures.
type studiesResponse struct {
	Studies       []study `json:"studies"`
	NextPageToken string  `json:"nextPageToken"`
}

type study struct {
	Protocol protocolSection `json:"protocolSection"`
}

type protocolSection struct {
	Identification struct {
		NCTID         string `json:"nctId"`
		BriefTitle    string `json:"briefTitle"`
		OfficialTitle string `json:"officialTitle"`
	} `json:"identificationModule"`
	Status struct {
		OverallStatus  string     `json:"overallStatus"`
		StartDate      dateStruct `json:"startDateStruct"`
		CompletionDate dateStruct `json:"completionDateStruct"`
	} `json:"statusModule"`
	Design struct {
		StudyType  string   `json:"studyType"`
		Phases     []string `json:"phases"`
		Enrollment struct {
			Count int `json:"count"`
		} `json:"enrollmentInfo"`
	} `json:"designModule"`
	Conditions struct {
		Conditions []string `json:"conditions"`
	} `json:"conditionsModule"`
	Arms struct {
		Interventions []struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"interventions"`
	} `json:"armsInterventionsModule"`
	Eligibility struct {
		Criteria   string `json:"eligibilityCriteria"`
		MinimumAge string `json:"minimumAge"`
		MaximumAge string `json:"maximumAge"`
		Sex        string `json:"sex"`
	} `json:"eligibilityModule"`
	Contacts struct {
		CentralContacts []contact `json:"centralContacts"`
		Officials       []struct {
			Name string `json:"name"`
			Role string `json:"role"`
		} `json:"overallOfficials"`
		Locations []struct {
			Facility string    `json:"facility"`
			Status   string    `json:"status"`
			City     string    `json:"city"`
			State    string    `json:"state"`
			Country  string    `json:"country"`
			Contacts []contact `json:"contacts"`
		} `json:"locations"`
	} `json:"contactsLocationsModule"`
}

type dateStruct struct {
	Date string `json:"date"`
}

type contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

func (s study) toTrial() (types.CandidateTrial, bool) {
	p := s.Protocol
	id := strings.TrimSpace(p.Identification.NCTID)
	if id == "" {
		return types.CandidateTrial{}, false
	}

	title := p.Identification.BriefTitle
	if title == "" {
		title = p.Identification.OfficialTitle
	}
	inclusion, exclusion := ParseCriteria(p.Eligibility.Criteria)

	t := types.CandidateTrial{
		ID:             id,
		Title:          title,
		Status:         types.TrialStatus(p.Status.OverallStatus),
		Phase:          strings.Join(p.Design.Phases, ", "),
		StudyType:      p.Design.StudyType,
		Conditions:     p.Conditions.Conditions,
		Criteria:       types.Criteria{Inclusion: inclusion, Exclusion: exclusion, MinAge: p.Eligibility.MinimumAge, MaxAge: p.Eligibility.MaximumAge, Sex: p.Eligibility.Sex},
		Locations:      []types.TrialLocation{},
		URL:            registryStudyURL + id,
		Enrollment:     p.Design.Enrollment.Count,
		StartDate:      p.Status.StartDate.Date,
		CompletionDate: p.Status.CompletionDate.Date,
		Literature:     []types.LiteratureReference{},
		MatchReasons:   []string{},
	}
	if len(p.Conditions.Conditions) > 0 {
		t.Condition = p.Conditions.Conditions[0]
	}
	if len(p.Arms.Interventions) > 0 {
		t.Intervention = p.Arms.Interventions[0].Name
	}
	for _, c := range p.Contacts.CentralContacts {
		if c.Name != "" {
			t.CentralContacts = append(t.CentralContacts, c.Name)
		}
	}
	for _, o := range p.Contacts.Officials {
		if o.Name != "" {
			t.Officials = append(t.Officials, o.Name)
		}
	}
	for _, l := range p.Contacts.Locations {
		loc := types.TrialLocation{Facility: l.Facility, City: l.City, State: l.State, Country: l.Country, Status: l.Status}
		for _, c := range l.Contacts {
			loc.Contacts = append(loc.Contacts, types.Contact{Name: c.Name, Phone: c.Phone, Email: c.Email})
		}
		t.Locations = append(t.Locations, loc)
	}
	return t, true
}
