// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/trialmatch/internal/config"
	"github.com/pdiddy/trialmatch/internal/discovery"
	"github.com/pdiddy/trialmatch/internal/eligibility"
	"github.com/pdiddy/trialmatch/internal/pipeline"
	"github.com/pdiddy/trialmatch/internal/profile"
	"github.com/pdiddy/trialmatch/internal/ratecache"
	"github.com/pdiddy/trialmatch/internal/review"
	"github.com/pdiddy/trialmatch/internal/sources"
	"github.com/pdiddy/trialmatch/internal/store"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// app holds everything a subcommand needs and what must be closed after.
type app struct {
	orch    *pipeline.Orchestrator
	store   store.Store
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("closing resource failed", zap.Error(err))
		}
	}
}

// newApp wires the cache, source clients, stages and store from cfg.
func newApp(ctx context.Context, cfg types.Config) (*app, error) {
	a := &app{}

	var backend ratecache.Backend
	if cfg.Cache.Backend == types.CacheRedis {
		client, err := ratecache.NewRedisClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		backend = ratecache.NewRedisBackend(client, cfg.Cache.KeyPrefix)
	}
	cache := ratecache.New(sources.Policies(cfg.Sources), backend, logger.Named("cache"))

	registry := sources.NewRegistryClient(cfg.Sources.Registry, cache, cfg.Sources.MockOnFailure, logger.Named("registry"))
	literature := sources.NewLiteratureClient(cfg.Sources.Literature, cache)
	drugs := sources.NewDrugSafetyClient(cfg.Sources.DrugSafety, cache)

	var completer profile.Completer
	if cfg.Profile.AI.Enabled {
		c, err := profile.NewAnthropicCompleter(cfg.Profile.AI)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("configuring llm extraction: %w", err)
		}
		completer = c
	}
	var coder profile.Coder
	if cfg.Profile.CodeDiagnosis {
		coder = sources.NewDiagnosisCoder(cfg.Sources.Diagnosis, cache)
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	retry := config.RetryPolicy(cfg.Retry)
	a.orch = pipeline.New(pipeline.Deps{
		Profile:   profile.NewExtractor(completer, coder, logger.Named("profile")),
		Discovery: discovery.New(registry, literature, cfg.Discovery, retry, logger.Named("discovery")),
		Scoring:   eligibility.New(cfg.Eligibility, drugs, logger.Named("eligibility")),
		Review:    review.NewCheckpoint(cfg.Review.Enabled, cfg.Eligibility.TopN, st, logger.Named("review")),
		Store:     st,
		Retry:     retry,
		Logger:    logger.Named("pipeline"),
	})
	return a, nil
}
