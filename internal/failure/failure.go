// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package failure defines the error kinds that cross stage boundaries and a
// bounded retry helper that only retries transient kinds.
package failure

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for the orchestrator.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindValidation        Kind = "validation"
	KindSourceUnavailable Kind = "source_unavailable"
	KindMalformedResponse Kind = "malformed_response"
	KindRecursionGuard    Kind = "recursion_guard_tripped"
	KindCancelled         Kind = "cancelled"
	KindReviewRejected    Kind = "review_rejected"
)

// Error is a classified error. Stage and Source are optional context.
type Error struct {
	Kind   Kind
	Stage  string
	Source string
	Err    error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Source != "" {
		prefix += " (" + e.Source + ")"
	}
	if e.Stage != "" {
		prefix = e.Stage + ": " + prefix
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports invalid input or a stage output that failed its check.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// SourceUnavailable reports an unreachable, timed out or non-2xx upstream.
func SourceUnavailable(source string, err error) error {
	return &Error{Kind: KindSourceUnavailable, Source: source, Err: err}
}

// MalformedResponse reports an upstream body that could not be decoded.
func MalformedResponse(source string, err error) error {
	return &Error{Kind: KindMalformedResponse, Source: source, Err: err}
}

// RecursionGuard reports a second attempt to broaden a search.
func RecursionGuard(msg string) error {
	return &Error{Kind: KindRecursionGuard, Err: errors.New(msg)}
}

// ReviewRejected reports a reviewer rejecting a suspended run.
func ReviewRejected(reviewer, notes string) error {
	msg := "rejected by reviewer"
	if reviewer != "" {
		msg += " " + reviewer
	}
	if notes != "" {
		msg += ": " + notes
	}
	return &Error{Kind: KindReviewRejected, Err: errors.New(msg)}
}

// WithStage returns err annotated with the stage name. Unclassified errors
// are wrapped with the kind KindOf reports for them.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Stage != "" {
			return err
		}
		cp := *fe
		cp.Stage = stage
		return &cp
	}
	return &Error{Kind: KindOf(err), Stage: stage, Err: err}
}

// KindOf returns the kind of err. Context cancellation and deadline errors
// are KindCancelled; unclassified errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// SourceOf returns the upstream source name recorded on err, if any.
func SourceOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Source
	}
	return ""
}

// Is reports whether err has kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Retryable reports whether a retry could plausibly succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindSourceUnavailable, KindMalformedResponse:
		return true
	}
	return false
}

// RetryPolicy bounds Retry. Delay doubles after each failed attempt up to
// MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is three attempts starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx ends. It returns the number of attempts made
// alongside the last error.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) (int, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return attempt - 1, &Error{Kind: KindCancelled, Err: cerr}
		}
		err = fn(ctx)
		if err == nil || !Retryable(err) || attempt >= p.MaxAttempts {
			return attempt, err
		}
		select {
		case <-ctx.Done():
			return attempt, &Error{Kind: KindCancelled, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
