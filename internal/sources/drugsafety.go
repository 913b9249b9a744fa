// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/trialmatch/internal/httputil"
	"github.com/pdiddy/trialmatch/internal/ratecache"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// drugSafetyAPIBase is the openFDA root.
var drugSafetyAPIBase = "https://api.fda.gov"

const (
	drugSafetyTimeout     = 10 * time.Second
	drugLookupConcurrency = 4
)

// DrugSafetyClient reads drug labels from openFDA.
type DrugSafetyClient struct {
	http   *resty.Client
	cache  *ratecache.Cache
	apiKey string
}

// NewDrugSafetyClient builds an openFDA label client.
func NewDrugSafetyClient(cfg types.SourceConfig, cache *ratecache.Cache) *DrugSafetyClient {
	return &DrugSafetyClient{
		http:   httputil.NewClient(cfg.HTTPConfig, drugSafetyAPIBase, drugSafetyTimeout),
		cache:  cache,
		apiKey: cfg.APIKey,
	}
}

// LookupResult holds one signal per drug that resolved, in input order, and
// the error for each drug that did not.
type LookupResult struct {
	Signals  []types.SafetySignal
	Failures map[string]error
}

type drugQuery struct {
	Drug         string `json:"drug"`
	BoxedWarning bool   `json:"boxed_warning"`
	Limit        int    `json:"limit"`
}

// Lookup fetches labels for each unique drug name concurrently. A failure
// for one drug is recorded in Failures and never affects the others. A drug
// openFDA does not know yields an empty signal.
func (c *DrugSafetyClient) Lookup(ctx context.Context, drugs []string, includeBoxedWarning bool, limitPerDrug int) LookupResult {
	if limitPerDrug <= 0 {
		limitPerDrug = 1
	}
	names := uniqueDrugs(drugs)
	signals := make([]*types.SafetySignal, len(names))
	res := LookupResult{Failures: map[string]error{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(drugLookupConcurrency)
	for i, name := range names {
		g.Go(func() error {
			q := drugQuery{Drug: name, BoxedWarning: includeBoxedWarning, Limit: limitPerDrug}
			sig, _, err := ratecache.Call(ctx, c.cache, SourceDrugSafety, q, func(ctx context.Context) (types.SafetySignal, error) {
				return c.fetch(ctx, q)
			})
			if err != nil {
				mu.Lock()
				res.Failures[name] = err
				mu.Unlock()
				return nil
			}
			signals[i] = &sig
			return nil
		})
	}
	g.Wait()

	for _, s := range signals {
		if s != nil {
			res.Signals = append(res.Signals, *s)
		}
	}
	return res
}

func uniqueDrugs(drugs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range drugs {
		d = strings.TrimSpace(d)
		k := strings.ToLower(d)
		if d == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}

func (c *DrugSafetyClient) fetch(ctx context.Context, q drugQuery) (types.SafetySignal, error) {
	sig := types.SafetySignal{Drug: q.Drug}
	params := url.Values{
		"search": {`openfda.generic_name:"` + strings.ToLower(q.Drug) + `"`},
		"limit":  {strconv.Itoa(q.Limit)},
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	var resp labelResponse
	err := httputil.GetJSON(ctx, c.http, SourceDrugSafety, "/drug/label.json", params, &resp)
	if errors.Is(err, httputil.ErrNotFound) {
		return sig, nil
	}
	if err != nil {
		return sig, err
	}

	for _, r := range resp.Results {
		if q.BoxedWarning {
			sig.BoxedWarning = append(sig.BoxedWarning, r.BoxedWarning...)
		}
		sig.Warnings = append(sig.Warnings, r.Warnings...)
		sig.Interactions = append(sig.Interactions, r.DrugInteractions...)
		sig.Contraindications = append(sig.Contraindications, r.Contraindications...)
	}
	return sig, nil
}

// openFDA label JSON structures.
type labelResponse struct {
	Results []labelResult `json:"results"`
}

type labelResult struct {
	BoxedWarning      []string `json:"boxed_warning"`
	Warnings          []string `json:"warnings"`
	DrugInteractions  []string `json:"drug_interactions"`
	Contraindications []string `json:"contraindications"`
}
