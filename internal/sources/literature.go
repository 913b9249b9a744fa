// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/httputil"
	"github.com/pdiddy/trialmatch/internal/ratecache"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// literatureAPIBase is the NCBI E-utilities root.
var literatureAPIBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

const (
	pubmedArticleURL  = "https://pubmed.ncbi.nlm.nih.gov/"
	literatureTimeout = 10 * time.Second
)

// LiteratureClient searches PubMed with the esearch/esummary pair.
type LiteratureClient struct {
	http   *resty.Client
	cache  *ratecache.Cache
	apiKey string
}

// NewLiteratureClient builds a PubMed client. cfg.APIKey raises NCBI's rate
// allowance and is sent as api_key when set.
func NewLiteratureClient(cfg types.SourceConfig, cache *ratecache.Cache) *LiteratureClient {
	return &LiteratureClient{
		http:   httputil.NewClient(cfg.HTTPConfig, literatureAPIBase, literatureTimeout),
		cache:  cache,
		apiKey: cfg.APIKey,
	}
}

type literatureQuery struct {
	Query string `json:"query"`
	Max   int    `json:"max"`
}

// Search resolves query to PubMed ids and fetches their summaries in one
// batched call. An empty id list returns no references without a second
// request.
func (c *LiteratureClient) Search(ctx context.Context, query string, max int) ([]types.LiteratureReference, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.LiteratureReference{}, nil
	}
	if max <= 0 {
		max = 3
	}
	q := literatureQuery{Query: query, Max: max}
	refs, _, err := ratecache.Call(ctx, c.cache, SourceLiterature, q, func(ctx context.Context) ([]types.LiteratureReference, error) {
		return c.fetch(ctx, q)
	})
	return refs, err
}

func (c *LiteratureClient) params(v url.Values) url.Values {
	v.Set("db", "pubmed")
	v.Set("retmode", "json")
	if c.apiKey != "" {
		v.Set("api_key", c.apiKey)
	}
	return v
}

func (c *LiteratureClient) fetch(ctx context.Context, q literatureQuery) ([]types.LiteratureReference, error) {
	var search esearchResponse
	err := httputil.GetJSON(ctx, c.http, SourceLiterature, "/esearch.fcgi", c.params(url.Values{
		"term":   {q.Query},
		"retmax": {strconv.Itoa(q.Max)},
		"sort":   {"relevance"},
	}), &search)
	if err != nil {
		return nil, asUnavailable(SourceLiterature, err)
	}

	ids := search.Result.IDList
	if len(ids) > q.Max {
		ids = ids[:q.Max]
	}
	if len(ids) == 0 {
		return []types.LiteratureReference{}, nil
	}

	// The summary request is a second upstream call and needs its own slot.
	if err := c.cache.Wait(ctx, SourceLiterature); err != nil {
		return nil, err
	}
	var summary esummaryResponse
	err = httputil.GetJSON(ctx, c.http, SourceLiterature, "/esummary.fcgi", c.params(url.Values{
		"id": {strings.Join(ids, ",")},
	}), &summary)
	if err != nil {
		return nil, asUnavailable(SourceLiterature, err)
	}

	refs := make([]types.LiteratureReference, 0, len(ids))
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var doc esummaryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, failure.MalformedResponse(SourceLiterature, err)
		}
		if doc.Error != "" {
			continue
		}
		ref := types.LiteratureReference{
			SourceID:        id,
			Title:           doc.Title,
			Authors:         []string{},
			Journal:         doc.FullJournalName,
			PublicationDate: doc.PubDate,
			URL:             pubmedArticleURL + id + "/",
		}
		if ref.Journal == "" {
			ref.Journal = doc.Source
		}
		for _, a := range doc.Authors {
			ref.Authors = append(ref.Authors, a.Name)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// asUnavailable maps a 404 (left unclassified by GetJSON) to
// SourceUnavailable; every other error passes through.
func asUnavailable(source string, err error) error {
	if failure.KindOf(err) == failure.KindUnknown {
		return failure.SourceUnavailable(source, err)
	}
	return err
}

// E-utilities JSON structures.
type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryDoc struct {
	UID             string `json:"uid"`
	Title           string `json:"title"`
	Source          string `json:"source"`
	FullJournalName string `json:"fulljournalname"`
	PubDate         string `json:"pubdate"`
	Error           string `json:"error"`
	Authors         []struct {
		Name string `json:"name"`
	} `json:"authors"`
}
