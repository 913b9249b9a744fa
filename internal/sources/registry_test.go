// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/pkg/types"
)

const studiesFixture = `{
  "studies": [
    {
      "protocolSection": {
        "identificationModule": {"nctId": "NCT05000001", "briefTitle": "Metformin Plus Exercise in Older Adults"},
        "statusModule": {"overallStatus": "RECRUITING", "startDateStruct": {"date": "2024-03"}, "completionDateStruct": {"date": "2027-12"}},
        "designModule": {"studyType": "INTERVENTIONAL", "phases": ["PHASE3"], "enrollmentInfo": {"count": 240}},
        "conditionsModule": {"conditions": ["Type 2 Diabetes", "Obesity"]},
        "armsInterventionsModule": {"interventions": [{"type": "DRUG", "name": "Metformin"}]},
        "eligibilityModule": {
          "eligibilityCriteria": "Inclusion Criteria:\n\n* Adults 18-75\n* Stable metformin dose\n\nExclusion Criteria:\n\n* Heart failure",
          "minimumAge": "18 Years", "maximumAge": "75 Years", "sex": "ALL"
        },
        "contactsLocationsModule": {
          "centralContacts": [{"name": "Ana Ruiz", "phone": "555-0100", "email": "ana@example.org"}],
          "overallOfficials": [{"name": "Dr. Lee", "role": "PRINCIPAL_INVESTIGATOR"}],
          "locations": [{"facility": "Mercy Clinic", "status": "RECRUITING", "city": "Boston", "state": "Massachusetts", "country": "United States",
                         "contacts": [{"name": "Site Desk", "phone": "555-0101"}]}]
        }
      }
    },
    {"protocolSection": {"identificationModule": {"briefTitle": "missing id is skipped"}}}
  ]
}`

type registryStub struct {
	mu      sync.Mutex
	queries []url.Values
	status  int
	body    string
}

func (s *registryStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies", r.URL.Path)
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Query())
		status, body := s.status, s.body
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
		w.Write([]byte(body))
	})
}

func (s *registryStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func TestRegistrySearch_BuildsQueryAndParsesStudies(t *testing.T) {
	stub := &registryStub{body: studiesFixture}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	c := NewRegistryClient(sourceConfig(ts.URL), testCache(), false, nil)
	trials, err := c.Search(context.Background(), SearchRequest{
		Condition:           "Type 2 Diabetes",
		SecondaryConditions: []string{"Hypertension", "type 2 diabetes"},
		Age:                 67,
		Sex:                 "female",
		Location:            "Boston",
		Phases:              []string{"PHASE3"},
		MaxResults:          10,
	})
	require.NoError(t, err)

	require.Equal(t, 1, stub.calls())
	q := stub.queries[0]
	assert.Equal(t, "Type 2 Diabetes OR Hypertension", q.Get("query.cond"))
	assert.Equal(t, "RECRUITING,ACTIVE_NOT_RECRUITING", q.Get("filter.overallStatus"))
	assert.Equal(t, "ages:older,sex:f,phase:3", q.Get("aggFilters"))
	assert.Equal(t, "Boston", q.Get("query.locn"))
	assert.Equal(t, "10", q.Get("pageSize"))
	assert.Equal(t, "@relevance", q.Get("sort"))

	require.Len(t, trials, 1)
	tr := trials[0]
	assert.Equal(t, "NCT05000001", tr.ID)
	assert.Equal(t, types.StatusRecruiting, tr.Status)
	assert.Equal(t, "PHASE3", tr.Phase)
	assert.Equal(t, "Type 2 Diabetes", tr.Condition)
	assert.Equal(t, []string{"Type 2 Diabetes", "Obesity"}, tr.Conditions)
	assert.Equal(t, "Metformin", tr.Intervention)
	assert.Equal(t, []string{"Adults 18-75", "Stable metformin dose"}, tr.Criteria.Inclusion)
	assert.Equal(t, []string{"Heart failure"}, tr.Criteria.Exclusion)
	assert.Equal(t, "18 Years", tr.Criteria.MinAge)
	assert.Equal(t, "75 Years", tr.Criteria.MaxAge)
	assert.Equal(t, []string{"Ana Ruiz"}, tr.CentralContacts)
	assert.Equal(t, []string{"Dr. Lee"}, tr.Officials)
	require.Len(t, tr.Locations, 1)
	assert.Equal(t, "Mercy Clinic, Boston, Massachusetts, United States", tr.Locations[0].Label())
	assert.Equal(t, "https://clinicaltrials.gov/study/NCT05000001", tr.URL)
	assert.Equal(t, 240, tr.Enrollment)
	assert.Equal(t, types.DiscoveredPrimary, tr.DiscoveredBy)
	assert.False(t, tr.Synthetic)
}

func TestRegistrySearch_Cached(t *testing.T) {
	stub := &registryStub{body: studiesFixture}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	c := NewRegistryClient(sourceConfig(ts.URL), testCache(), false, nil)
	req := SearchRequest{Condition: "Type 2 Diabetes"}
	_, err := c.Search(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls())
}

func TestRegistrySearch_UpstreamFailure(t *testing.T) {
	stub := &registryStub{status: http.StatusBadGateway}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	c := NewRegistryClient(sourceConfig(ts.URL), testCache(), false, nil)
	_, err := c.Search(context.Background(), SearchRequest{Condition: "asthma"})
	assert.Equal(t, failure.KindSourceUnavailable, failure.KindOf(err))

	stub.mu.Lock()
	stub.status, stub.body = http.StatusOK, `{"studies": [`
	stub.mu.Unlock()
	_, err = c.Search(context.Background(), SearchRequest{Condition: "asthma"})
	assert.Equal(t, failure.KindMalformedResponse, failure.KindOf(err))
}

func TestRegistrySearch_MockOnFailureReturnsOneSyntheticTrial(t *testing.T) {
	stub := &registryStub{status: http.StatusServiceUnavailable}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	c := NewRegistryClient(sourceConfig(ts.URL), testCache(), true, nil)
	trials, err := c.Search(context.Background(), SearchRequest{Condition: "asthma"})
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.True(t, trials[0].Synthetic)
	assert.Equal(t, types.DiscoveredSynthetic, trials[0].DiscoveredBy)
	assert.Equal(t, SyntheticTrialID, trials[0].ID)
	assert.Equal(t, 1, stub.calls(), "the synthetic path performs no further upstream calls")
}

func TestRegistrySearch_MockDoesNotMaskCancellation(t *testing.T) {
	stub := &registryStub{body: studiesFixture}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewRegistryClient(sourceConfig(ts.URL), testCache(), true, nil)
	_, err := c.Search(ctx, SearchRequest{Condition: "asthma"})
	assert.Equal(t, failure.KindCancelled, failure.KindOf(err))
}

func TestRegistrySearch_RequiresCondition(t *testing.T) {
	c := NewRegistryClient(sourceConfig("http://127.0.0.1:1"), testCache(), true, nil)
	_, err := c.Search(context.Background(), SearchRequest{Condition: "  "})
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	_, err = c.SearchFallback(context.Background(), FallbackSearch{})
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
}

func TestBroaden(t *testing.T) {
	req := SearchRequest{
		Condition:           "Type 2 Diabetes",
		SecondaryConditions: []string{"Hypertension"},
		Age:                 40,
		Sex:                 "m",
		Statuses:            DefaultStatuses,
		Location:            "Ohio",
		Phases:              []string{"PHASE2"},
		MaxResults:          10,
	}
	fb := req.Broaden()
	assert.True(t, fb.IsFallback())
	assert.Equal(t, "Type 2 Diabetes", fb.Condition)
	assert.Equal(t, 40, fb.Age)
	assert.Equal(t, BroadStatuses, fb.Statuses)
	assert.Equal(t, 20, fb.MaxResults)

	assert.Equal(t, maxFallbackPageSize, SearchRequest{Condition: "x", MaxResults: 40}.Broaden().MaxResults)
	assert.Equal(t, 2*defaultPageSize, SearchRequest{Condition: "x"}.Broaden().MaxResults)
}

func TestRegistrySearchFallback_Query(t *testing.T) {
	stub := &registryStub{body: studiesFixture}
	ts := httptest.NewServer(stub.handler(t))
	defer ts.Close()

	c := NewRegistryClient(sourceConfig(ts.URL), testCache(), false, nil)
	req := SearchRequest{Condition: "Type 2 Diabetes", SecondaryConditions: []string{"Hypertension"}, Location: "Ohio", Age: 30}
	trials, err := c.SearchFallback(context.Background(), req.Broaden())
	require.NoError(t, err)

	q := stub.queries[0]
	assert.Equal(t, "Type 2 Diabetes", q.Get("query.cond"))
	assert.Equal(t, "", q.Get("query.locn"))
	assert.Equal(t, "ages:adult", q.Get("aggFilters"))
	assert.Contains(t, q.Get("filter.overallStatus"), "COMPLETED")
	require.Len(t, trials, 1)
	assert.Equal(t, types.DiscoveredFallback, trials[0].DiscoveredBy)
}

func TestAgeBucket(t *testing.T) {
	tests := map[int]string{0: "", 5: "child", 17: "child", 18: "adult", 64: "adult", 65: "older", 90: "older"}
	for age, want := range tests {
		assert.Equal(t, want, AgeBucket(age), "age %d", age)
	}
}

func TestSyntheticTrial_IsPure(t *testing.T) {
	a := SyntheticTrial("asthma")
	b := SyntheticTrial("asthma")
	assert.Equal(t, a, b)
	assert.Equal(t, types.UnknownCondition, SyntheticTrial("").Condition)
}
