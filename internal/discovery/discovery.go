// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package discovery finds candidate trials for a patient profile and attaches
// supporting literature. A primary registry search that under-returns is
// broadened exactly once.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/internal/sources"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// Registry is the trial registry client.
type Registry interface {
	Search(ctx context.Context, req sources.SearchRequest) ([]types.CandidateTrial, error)
	SearchFallback(ctx context.Context, req sources.FallbackSearch) ([]types.CandidateTrial, error)
}

// Literature is the literature search client.
type Literature interface {
	Search(ctx context.Context, query string, max int) ([]types.LiteratureReference, error)
}

// Defaults applied when configuration leaves a field at zero.
const (
	DefaultMaxTrials             = 10
	DefaultMinResults            = 3
	DefaultMaxLiterature         = 3
	DefaultLiteratureConcurrency = 4
	DefaultTimeout               = 30 * time.Second
	maxPageSize                  = 50
)

// Result is the outcome of one discovery run.
type Result struct {
	Trials       []types.CandidateTrial
	FallbackUsed bool
	Counts       map[string]int
	Missing      []string
	Warnings     []string
}

// Stage runs trial discovery.
type Stage struct {
	registry   Registry
	literature Literature
	cfg        types.DiscoveryConfig
	retry      failure.RetryPolicy
	logger     *zap.Logger
}

// New returns a discovery stage. literature may be nil, in which case trials
// carry no literature.
func New(registry Registry, literature Literature, cfg types.DiscoveryConfig, retry failure.RetryPolicy, logger *zap.Logger) *Stage {
	if cfg.MaxTrials <= 0 {
		cfg.MaxTrials = DefaultMaxTrials
	}
	if cfg.MinResults <= 0 {
		cfg.MinResults = DefaultMinResults
	}
	if cfg.MaxLiterature <= 0 {
		cfg.MaxLiterature = DefaultMaxLiterature
	}
	if cfg.LiteratureConcurrency <= 0 {
		cfg.LiteratureConcurrency = DefaultLiteratureConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{registry: registry, literature: literature, cfg: cfg, retry: retry, logger: logger}
}

// SearchTerms returns the diagnosis followed by comorbidities, biomarkers and
// prior treatments, de-duplicated case-insensitively in first-seen order.
func SearchTerms(p types.PatientProfile) []string {
	seen := map[string]bool{}
	var terms []string
	add := func(list ...string) {
		for _, t := range list {
			t = strings.TrimSpace(t)
			k := strings.ToLower(t)
			if t == "" || seen[k] {
				continue
			}
			seen[k] = true
			terms = append(terms, t)
		}
	}
	add(p.Diagnosis)
	add(p.Comorbidities...)
	add(p.Biomarkers...)
	add(p.PriorTreatments...)
	return terms
}

// broadening hands out the single fallback search of one discovery run.
type broadening struct {
	used bool
}

func (b *broadening) broaden(req sources.SearchRequest) (sources.FallbackSearch, error) {
	if b.used {
		return sources.FallbackSearch{}, failure.RecursionGuard("search already broadened once")
	}
	b.used = true
	return req.Broaden(), nil
}

// Discover searches the registry, broadens once when the primary search
// returns fewer than MinResults real trials, caps the list at MaxTrials and
// attaches literature. Registry failures are fatal; literature failures are
// logged and recorded in Result.Missing.
func (s *Stage) Discover(ctx context.Context, p types.PatientProfile, opts types.RunOptions) (Result, error) {
	res := Result{Counts: map[string]int{}}
	maxTrials := s.cfg.MaxTrials
	if opts.MaxTrials > 0 {
		maxTrials = opts.MaxTrials
	}
	maxLit := s.cfg.MaxLiterature
	if opts.MaxLiterature > 0 {
		maxLit = opts.MaxLiterature
	}

	terms := SearchTerms(p)
	if len(terms) == 0 {
		return res, failure.Validation("profile has no diagnosis to search for")
	}
	statuses := append([]types.TrialStatus(nil), sources.DefaultStatuses...)
	if opts.IncludeCompleted {
		statuses = append(statuses, types.StatusCompleted)
	}
	pageSize := maxTrials * 2
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	req := sources.SearchRequest{
		Condition:           terms[0],
		SecondaryConditions: terms[1:],
		Age:                 p.Age,
		Sex:                 p.Sex,
		Statuses:            statuses,
		Location:            p.Location,
		MaxResults:          pageSize,
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var primary []types.CandidateTrial
	_, err := failure.Retry(searchCtx, s.retry, func(ctx context.Context) error {
		var err error
		primary, err = s.registry.Search(ctx, req)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("registry search: %w", err)
	}
	res.Counts["primary_results"] = len(primary)
	res.Counts["registry_searches"] = 1
	trials := primary

	var guard broadening
	if len(primary) < s.cfg.MinResults && !anySynthetic(primary) {
		fb, err := guard.broaden(req)
		if err != nil {
			return res, err
		}
		var broadened []types.CandidateTrial
		_, err = failure.Retry(searchCtx, s.retry, func(ctx context.Context) error {
			var err error
			broadened, err = s.registry.SearchFallback(ctx, fb)
			return err
		})
		res.FallbackUsed = true
		res.Counts["registry_searches"]++
		switch {
		case err != nil && (len(primary) == 0 || failure.KindOf(err) == failure.KindCancelled):
			return res, fmt.Errorf("broadened registry search: %w", err)
		case err != nil:
			s.logger.Warn("broadened search failed, keeping primary results",
				zap.String("source", sources.SourceRegistry), zap.Error(err))
			res.Warnings = append(res.Warnings, "broadened search failed: "+err.Error())
		default:
			res.Counts["fallback_results"] = len(broadened)
			trials = mergeTrials(primary, broadened)
		}
	}

	if len(trials) > maxTrials {
		trials = trials[:maxTrials]
	}

	if err := s.attachLiterature(ctx, trials, maxLit, &res); err != nil {
		return res, err
	}
	for i := range trials {
		trials[i].MatchReasons = MatchReasons(p, terms, trials[i])
	}
	res.Trials = trials
	res.Counts["trials_found"] = len(trials)
	return res, nil
}

func anySynthetic(trials []types.CandidateTrial) bool {
	for _, t := range trials {
		if t.Synthetic {
			return true
		}
	}
	return false
}

// mergeTrials appends fallback trials whose ids the primary list lacks.
func mergeTrials(primary, fallback []types.CandidateTrial) []types.CandidateTrial {
	seen := make(map[string]bool, len(primary))
	out := make([]types.CandidateTrial, 0, len(primary)+len(fallback))
	for _, t := range primary {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	for _, t := range fallback {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out
}

// attachLiterature issues one lookup per unique query and gives every trial
// its own copy of the references. Synthetic trials are skipped.
func (s *Stage) attachLiterature(ctx context.Context, trials []types.CandidateTrial, max int, res *Result) error {
	for i := range trials {
		trials[i].Literature = []types.LiteratureReference{}
	}
	if s.literature == nil {
		return nil
	}

	var queries []string
	seen := map[string]bool{}
	for _, t := range trials {
		q := t.LiteratureQuery()
		if t.Synthetic || q == "" || seen[q] {
			continue
		}
		seen[q] = true
		queries = append(queries, q)
	}

	var (
		mu     sync.Mutex
		found  = map[string][]types.LiteratureReference{}
		failed = map[string]error{}
		g      errgroup.Group
	)
	g.SetLimit(s.cfg.LiteratureConcurrency)
	for _, q := range queries {
		g.Go(func() error {
			refs, err := s.literature.Search(ctx, q, max)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[q] = err
				return nil
			}
			found[q] = refs
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	res.Counts["literature_queries"] = len(queries)
	res.Counts["literature_failures"] = len(failed)

	for i := range trials {
		t := &trials[i]
		q := t.LiteratureQuery()
		if t.Synthetic || q == "" {
			continue
		}
		if err, ok := failed[q]; ok {
			s.logger.Warn("literature lookup failed, continuing without literature",
				zap.String("trial_id", t.ID),
				zap.String("source", sources.SourceLiterature),
				zap.String("query", q),
				zap.Error(err))
			res.Missing = append(res.Missing, "literature:"+t.ID)
			res.Warnings = append(res.Warnings, fmt.Sprintf("literature unavailable for %s", t.ID))
			continue
		}
		t.Literature = copyRefs(found[q])
	}
	return nil
}

func copyRefs(refs []types.LiteratureReference) []types.LiteratureReference {
	out := make([]types.LiteratureReference, len(refs))
	for i, r := range refs {
		r.Authors = append([]string{}, r.Authors...)
		out[i] = r
	}
	return out
}
