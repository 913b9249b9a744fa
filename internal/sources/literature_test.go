// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/ratecache"
)

const esummaryFixture = `{
  "header": {"type": "esummary"},
  "result": {
    "uids": ["38000001", "38000002"],
    "38000001": {"uid": "38000001", "title": "Metformin in older adults", "fulljournalname": "Diabetes Care", "pubdate": "2024 Jan",
                 "authors": [{"name": "Smith J"}, {"name": "Doe A"}]},
    "38000002": {"uid": "38000002", "title": "Exercise and glycemic control", "source": "Lancet", "pubdate": "2023",
                 "authors": []}
  }
}`

type pubmedStub struct {
	searches  int32
	summaries int32
	idlist    string
	summaryOK bool
	lastIDs   atomic.Value
	apiKey    atomic.Value
}

func (s *pubmedStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.apiKey.Store(q.Get("api_key"))
		switch r.URL.Path {
		case "/esearch.fcgi":
			atomic.AddInt32(&s.searches, 1)
			w.Write([]byte(`{"esearchresult": {"count": "2", "idlist": ` + s.idlist + `}}`))
		case "/esummary.fcgi":
			atomic.AddInt32(&s.summaries, 1)
			s.lastIDs.Store(q.Get("id"))
			if !s.summaryOK {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(esummaryFixture))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestLiteratureSearch_TwoStepProtocol(t *testing.T) {
	stub := &pubmedStub{idlist: `["38000001", "38000002"]`, summaryOK: true}
	ts := httptest.NewServer(stub.handler())
	defer ts.Close()

	cfg := sourceConfig(ts.URL)
	cfg.APIKey = "ncbi-key"
	c := NewLiteratureClient(cfg, testCache())

	rec := ratecache.NewRecorder()
	ctx := ratecache.WithRecorder(context.Background(), rec)
	refs, err := c.Search(ctx, "Metformin Type 2 Diabetes", 3)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.searches))
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.summaries))
	assert.Equal(t, "38000001,38000002", stub.lastIDs.Load())
	assert.Equal(t, "ncbi-key", stub.apiKey.Load())
	assert.Equal(t, 2, rec.Calls()[SourceLiterature], "both requests claim a rate slot")

	require.Len(t, refs, 2)
	assert.Equal(t, "38000001", refs[0].SourceID)
	assert.Equal(t, "Metformin in older adults", refs[0].Title)
	assert.Equal(t, []string{"Smith J", "Doe A"}, refs[0].Authors)
	assert.Equal(t, "Diabetes Care", refs[0].Journal)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/38000001/", refs[0].URL)
	assert.Equal(t, "Lancet", refs[1].Journal)
	assert.Empty(t, refs[1].Authors)
}

func TestLiteratureSearch_EmptyIDListSkipsSummary(t *testing.T) {
	stub := &pubmedStub{idlist: `[]`, summaryOK: true}
	ts := httptest.NewServer(stub.handler())
	defer ts.Close()

	c := NewLiteratureClient(sourceConfig(ts.URL), testCache())
	refs, err := c.Search(context.Background(), "nothing matches this", 3)
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)
	assert.Equal(t, int32(0), atomic.LoadInt32(&stub.summaries))
}

func TestLiteratureSearch_CachedPerQuery(t *testing.T) {
	stub := &pubmedStub{idlist: `["38000001"]`, summaryOK: true}
	ts := httptest.NewServer(stub.handler())
	defer ts.Close()

	c := NewLiteratureClient(sourceConfig(ts.URL), testCache())
	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), "insulin diabetes", 3)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.searches))

	_, err := c.Search(context.Background(), "insulin diabetes", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&stub.searches), "max is part of the key")
}

func TestLiteratureSearch_SummaryFailure(t *testing.T) {
	stub := &pubmedStub{idlist: `["38000001"]`, summaryOK: false}
	ts := httptest.NewServer(stub.handler())
	defer ts.Close()

	c := NewLiteratureClient(sourceConfig(ts.URL), testCache())
	_, err := c.Search(context.Background(), "statin", 3)
	assert.Equal(t, failure.KindSourceUnavailable, failure.KindOf(err))
}

func TestLiteratureSearch_BlankQuery(t *testing.T) {
	c := NewLiteratureClient(sourceConfig("http://127.0.0.1:1"), testCache())
	refs, err := c.Search(context.Background(), "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, refs)
}
