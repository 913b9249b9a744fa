// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratecache

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a sliding-window call budget per source. Each source has
// its own lock, so a saturated source never delays callers of another.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	policies map[string]Policy
	fallback Policy
	now      func() time.Time
}

type window struct {
	mu     sync.Mutex
	limit  int
	span   time.Duration
	stamps []time.Time
}

// NewLimiter returns a limiter using policies by source name. Sources not in
// policies use fallback; a non-positive Rate means unlimited.
func NewLimiter(policies map[string]Policy, fallback Policy) *Limiter {
	return &Limiter{
		windows:  make(map[string]*window),
		policies: policies,
		fallback: fallback,
		now:      time.Now,
	}
}

func (l *Limiter) window(source string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[source]
	if !ok {
		p, found := l.policies[source]
		if !found {
			p = l.fallback
		}
		span := p.Window
		if span <= 0 {
			span = time.Second
		}
		w = &window{limit: p.Rate, span: span}
		l.windows[source] = w
	}
	return w
}

// Wait blocks until a call slot for source is free, then claims it. It
// returns ctx.Err() if ctx ends first; no slot is claimed in that case.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	w := l.window(source)
	if w.limit <= 0 {
		return ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, ok := w.reserve(l.now())
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve claims a slot at now if one is free; otherwise it reports how long
// until the oldest call leaves the window.
func (w *window) reserve(now time.Time) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]

	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return 0, true
	}
	wait := w.stamps[0].Add(w.span).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow returns how many calls for source fall inside the current window.
func (l *Limiter) InWindow(source string) int {
	w := l.window(source)
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := l.now().Add(-w.span)
	n := 0
	for _, s := range w.stamps {
		if s.After(cutoff) {
			n++
		}
	}
	return n
}
