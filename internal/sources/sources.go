// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources implements the upstream clients: the ClinicalTrials.gov
// registry, PubMed literature search, openFDA drug labels and the NLM
// ICD-10-CM lookup. Every client goes through a shared ratecache.Cache.
package sources

import (
	"time"

	"github.com/pdiddy/trialmatch/internal/ratecache"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// Source names used as rate classes and cache key prefixes.
const (
	SourceRegistry   = "registry"
	SourceLiterature = "literature"
	SourceDrugSafety = "drug_safety"
	SourceDiagnosis  = "diagnosis"
)

// Policies maps source configuration to cache policies.
func Policies(cfg types.SourcesConfig) map[string]ratecache.Policy {
	return map[string]ratecache.Policy{
		SourceRegistry:   policy(cfg.Registry),
		SourceLiterature: policy(cfg.Literature),
		SourceDrugSafety: policy(cfg.DrugSafety),
		SourceDiagnosis:  policy(cfg.Diagnosis),
	}
}

func policy(sc types.SourceConfig) ratecache.Policy {
	window := sc.RateWindow
	if window <= 0 {
		window = time.Second
	}
	return ratecache.Policy{Rate: sc.RatePerWindow, Window: window, TTL: sc.CacheTTL}
}
