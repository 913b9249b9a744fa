// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratecache sits between the pipeline and every external source. It
// answers repeated requests from a TTL cache and throttles the rest with a
// per-source sliding window.
package ratecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Policy is the rate class and cache lifetime of one source.
type Policy struct {
	// Rate is the number of upstream calls allowed per Window.
	Rate   int
	Window time.Duration
	TTL    time.Duration
}

// SharedCallTimeout bounds one upstream invocation shared by concurrent
// callers, since no single caller's context governs it.
const SharedCallTimeout = 2 * time.Minute

// DefaultPolicy applies to sources without an explicit policy.
var DefaultPolicy = Policy{Rate: 5, Window: time.Second, TTL: 15 * time.Minute}

// Cache is safe for concurrent use by many stages and runs.
type Cache struct {
	backend  Backend
	limiter  *Limiter
	policies map[string]Policy
	group    singleflight.Group
	logger   *zap.Logger
}

// New returns a cache over backend. A nil backend uses a fresh MemoryBackend.
func New(policies map[string]Policy, backend Backend, logger *zap.Logger) *Cache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		backend:  backend,
		limiter:  NewLimiter(policies, DefaultPolicy),
		policies: policies,
		logger:   logger,
	}
}

// Limiter exposes the per-source limiter for protocols that issue several
// dependent upstream requests inside one cached call.
func (c *Cache) Limiter() *Limiter { return c.limiter }

// Wait claims one rate slot for source.
func (c *Cache) Wait(ctx context.Context, source string) error {
	if err := c.limiter.Wait(ctx, source); err != nil {
		return err
	}
	RecorderFrom(ctx).call(source)
	return nil
}

func (c *Cache) ttl(source string) time.Duration {
	if p, ok := c.policies[source]; ok {
		return p.TTL
	}
	return DefaultPolicy.TTL
}

// Key derives the cache key for source and params. params is encoded as
// JSON, so map keys are sorted and equal parameter sets give equal keys.
func Key(source string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding cache params for %s: %w", source, err)
	}
	sum := sha256.Sum256(raw)
	return source + ":" + hex.EncodeToString(sum[:]), nil
}

func (c *Cache) lookup(ctx context.Context, source, key string) ([]byte, bool) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss",
			zap.String("source", source), zap.Error(err))
		return nil, false
	}
	return raw, ok
}

// Call returns the cached result for (source, params) or invokes fn and
// caches its result. hit reports whether no upstream call was made for this
// caller. fn is responsible for its own rate slots only when it issues more
// than one request; Call claims the first. Concurrent misses for the same
// key share one invocation of fn; a caller whose context ends stops waiting
// without affecting the others. Errors are never cached.
func Call[T any](ctx context.Context, c *Cache, source string, params any, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	key, err := Key(source, params)
	if err != nil {
		return zero, false, err
	}
	rec := RecorderFrom(ctx)

	if raw, ok := c.lookup(ctx, source, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			rec.hit(source)
			return v, true, nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("source", source))
	}

	// The shared call outlives any single caller: it runs detached from the
	// leader's cancellation, and each caller stops waiting on its own ctx.
	called := false
	shared := c.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SharedCallTimeout)
		defer cancel()
		if raw, ok := c.lookup(sctx, source, key); ok {
			return raw, nil
		}
		if err := c.Wait(sctx, source); err != nil {
			return nil, err
		}
		called = true
		v, err := fn(sctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding %s response: %w", source, err)
		}
		if err := c.backend.Set(sctx, key, raw, c.ttl(source)); err != nil {
			c.logger.Warn("cache write failed", zap.String("source", source), zap.Error(err))
		}
		return raw, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res = <-shared:
	}
	if res.Err != nil {
		return zero, false, res.Err
	}

	var v T
	if err := json.Unmarshal(res.Val.([]byte), &v); err != nil {
		return zero, false, fmt.Errorf("decoding %s response: %w", source, err)
	}
	if !called {
		rec.hit(source)
	}
	return v, !called, nil
}
