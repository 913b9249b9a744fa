// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratecache

import (
	"context"
	"sync"
)

// Recorder counts upstream calls and cache hits per source for one run.
// A nil *Recorder ignores every update.
type Recorder struct {
	mu    sync.Mutex
	calls map[string]int
	hits  map[string]int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{calls: make(map[string]int), hits: make(map[string]int)}
}

type recorderKey struct{}

// WithRecorder attaches r to ctx; every Call made with the returned context
// is counted in r.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecorderFrom returns the recorder attached to ctx, or nil.
func RecorderFrom(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

func (r *Recorder) call(source string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.calls[source]++
	r.mu.Unlock()
}

func (r *Recorder) hit(source string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.hits[source]++
	r.mu.Unlock()
}

// Calls returns a snapshot of upstream call counts.
func (r *Recorder) Calls() map[string]int {
	return r.snapshot(func() map[string]int { return r.calls })
}

// Hits returns a snapshot of cache hit counts.
func (r *Recorder) Hits() map[string]int {
	return r.snapshot(func() map[string]int { return r.hits })
}

func (r *Recorder) snapshot(pick func() map[string]int) map[string]int {
	out := make(map[string]int)
	if r == nil {
		return out
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range pick() {
		out[k] = v
	}
	return out
}
