// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the HTTP transport shared by the upstream
// source clients.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pdiddy/trialmatch/internal/failure"
	"github.com/pdiddy/trialmatch/pkg/types"
)

// RetryBaseDelay is the first backoff wait after a 429 or 5xx response.
// Waits double up to eight times this value. Tests override this to avoid
// real sleeps.
var RetryBaseDelay = 500 * time.Millisecond

const (
	defaultMaxRetries = 2
	defaultUserAgent  = "trialmatch/0.1"
)

// ErrNotFound is returned by GetJSON for a 404 response. Some sources use 404
// to mean "no results", so callers decide whether it is a failure.
var ErrNotFound = errors.New("not found")

// NewClient builds a resty client for one source. cfg.BaseURL overrides
// defaultBaseURL and a zero cfg.Timeout falls back to defaultTimeout.
func NewClient(cfg types.HTTPConfig, defaultBaseURL string, defaultTimeout time.Duration) *resty.Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(RetryBaseDelay).
		SetRetryMaxWaitTime(8*RetryBaseDelay).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", ua).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
}

// GetJSON issues GET path with params and decodes the JSON body into out.
// Transport errors, timeouts and non-2xx statuses become SourceUnavailable;
// an undecodable body becomes MalformedResponse; context cancellation is
// returned as the context error.
func GetJSON(ctx context.Context, c *resty.Client, source, path string, params url.Values, out any) error {
	resp, err := c.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get(path)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return failure.SourceUnavailable(source, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", source, path, ErrNotFound)
	case code < 200 || code > 299:
		return failure.SourceUnavailable(source, fmt.Errorf("GET %s: HTTP %d", path, code))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return failure.MalformedResponse(source, fmt.Errorf("decoding %s: %w", path, err))
	}
	return nil
}
