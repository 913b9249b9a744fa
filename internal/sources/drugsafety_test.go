// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/trialmatch/internal/failure"
)

func openFDAStub(t *testing.T, hits map[string]int, mu *sync.Mutex) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drug/label.json", r.URL.Path)
		search := r.URL.Query().Get("search")
		mu.Lock()
		hits[search]++
		mu.Unlock()
		switch {
		case strings.Contains(search, "warfarin"):
			w.Write([]byte(`{"results": [{
				"boxed_warning": ["BLEEDING RISK"],
				"warnings": ["Monitor INR"],
				"drug_interactions": ["Contraindicated with aspirin at high doses"],
				"contraindications": ["Pregnancy"]}]}`))
		case strings.Contains(search, "metformin"):
			w.Write([]byte(`{"results": [{"warnings": ["Lactic acidosis"], "drug_interactions": ["Monitor with contrast agents"]}]}`))
		case strings.Contains(search, "lisinopril"):
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": {"code": "NOT_FOUND"}}`))
		}
	})
}

func TestDrugSafetyLookup_PartialFailure(t *testing.T) {
	hits := map[string]int{}
	var mu sync.Mutex
	ts := httptest.NewServer(openFDAStub(t, hits, &mu))
	defer ts.Close()

	c := NewDrugSafetyClient(sourceConfig(ts.URL), testCache())
	res := c.Lookup(context.Background(), []string{"Warfarin", "Metformin", "metformin", "Lisinopril", "Madeupzol"}, true, 1)

	require.Len(t, res.Signals, 3, "warfarin, metformin and the unknown drug resolve")
	assert.Equal(t, "Warfarin", res.Signals[0].Drug)
	assert.True(t, res.Signals[0].HasBoxedWarning())
	assert.Equal(t, []string{"Contraindicated with aspirin at high doses"}, res.Signals[0].Interactions)
	assert.Equal(t, []string{"Pregnancy"}, res.Signals[0].Contraindications)

	assert.Equal(t, "Metformin", res.Signals[1].Drug)
	assert.Equal(t, []string{"Lactic acidosis"}, res.Signals[1].Warnings)

	assert.Equal(t, "Madeupzol", res.Signals[2].Drug)
	assert.Empty(t, res.Signals[2].Warnings)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, failure.KindSourceUnavailable, failure.KindOf(res.Failures["Lisinopril"]))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits[`openfda.generic_name:"metformin"`], "duplicate names are looked up once")
}

func TestDrugSafetyLookup_BoxedWarningOptional(t *testing.T) {
	hits := map[string]int{}
	var mu sync.Mutex
	ts := httptest.NewServer(openFDAStub(t, hits, &mu))
	defer ts.Close()

	c := NewDrugSafetyClient(sourceConfig(ts.URL), testCache())
	res := c.Lookup(context.Background(), []string{"warfarin"}, false, 1)
	require.Len(t, res.Signals, 1)
	assert.False(t, res.Signals[0].HasBoxedWarning())
	assert.NotEmpty(t, res.Signals[0].Warnings)
}

func TestDrugSafetyLookup_Empty(t *testing.T) {
	c := NewDrugSafetyClient(sourceConfig("http://127.0.0.1:1"), testCache())
	res := c.Lookup(context.Background(), []string{"", "  "}, true, 1)
	assert.Empty(t, res.Signals)
	assert.Empty(t, res.Failures)
}
