// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/httputil"
	"github.com/pdiddy/trialmatch/internal/ratecache"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// diagnosisAPIBase is the NLM Clinical Tables root.
var diagnosisAPIBase = "https://clinicaltables.nlm.nih.gov/api"

const diagnosisTimeout = 8 * time.Second

// DiagnosisCode is an ICD-10-CM code and its description.
type DiagnosisCode struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// DiagnosisCoder resolves a free-text diagnosis to its best ICD-10-CM match.
type DiagnosisCoder struct {
	http  *resty.Client
	cache *ratecache.Cache
}

// NewDiagnosisCoder builds an ICD-10-CM lookup client.
func NewDiagnosisCoder(cfg types.SourceConfig, cache *ratecache.Cache) *DiagnosisCoder {
	return &DiagnosisCoder{
		http:  httputil.NewClient(cfg.HTTPConfig, diagnosisAPIBase, diagnosisTimeout),
		cache: cache,
	}
}

// Code returns the top match for diagnosis, or a zero DiagnosisCode when
// nothing matches.
func (c *DiagnosisCoder) Code(ctx context.Context, diagnosis string) (DiagnosisCode, error) {
	term := strings.ToLower(strings.TrimSpace(diagnosis))
	if term == "" || term == strings.ToLower(types.UnknownCondition) {
		return DiagnosisCode{}, nil
	}
	code, _, err := ratecache.Call(ctx, c.cache, SourceDiagnosis, map[string]string{"terms": term}, func(ctx context.Context) (DiagnosisCode, error) {
		return c.fetch(ctx, term)
	})
	return code, err
}

func (c *DiagnosisCoder) fetch(ctx context.Context, term string) (DiagnosisCode, error) {
	// Response shape: [total, [codes...], extra, [[code, name], ...]]
	var raw []json.RawMessage
	err := httputil.GetJSON(ctx, c.http, SourceDiagnosis, "/icd10cm/v3/search", url.Values{
		"sf":      {"code,name"},
		"terms":   {term},
		"maxList": {"1"},
	}, &raw)
	if err != nil {
		return DiagnosisCode{}, asUnavailable(SourceDiagnosis, err)
	}
	if len(raw) < 4 {
		return DiagnosisCode{}, failure.MalformedResponse(SourceDiagnosis, fmt.Errorf("expected 4 elements, got %d", len(raw)))
	}
	var pairs [][]string
	if err := json.Unmarshal(raw[3], &pairs); err != nil {
		return DiagnosisCode{}, failure.MalformedResponse(SourceDiagnosis, err)
	}
	if len(pairs) == 0 || len(pairs[0]) < 2 {
		return DiagnosisCode{}, nil
	}
	return DiagnosisCode{Code: pairs[0][0], Name: pairs[0][1]}, nil
}
