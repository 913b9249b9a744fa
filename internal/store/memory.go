// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pdiddy/trialmatch/pkg/types"
)

// MemoryStore keeps encoded states in a map. Callers never share state
// values with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
	meta map[string]RunSummary
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string][]byte{}, meta: map[string]RunSummary{}}
}

// Save inserts or replaces the state under its RunID.
func (m *MemoryStore) Save(_ context.Context, state *types.PipelineRunState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[state.RunID] = data
	m.meta[state.RunID] = summaryOf(state)
	return nil
}

// CompareAndSave replaces the state while its stored status is expect.
func (m *MemoryStore) CompareAndSave(_ context.Context, expect types.RunStatus, state *types.PipelineRunState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.meta[state.RunID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrStatusChanged
	}
	m.runs[state.RunID] = data
	m.meta[state.RunID] = summaryOf(state)
	return nil
}

// Load returns a decoded copy of the stored state.
func (m *MemoryStore) Load(_ context.Context, runID string) (*types.PipelineRunState, error) {
	m.mu.RLock()
	data, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

// ListPending returns runs awaiting review, oldest first.
func (m *MemoryStore) ListPending(context.Context) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []RunSummary{}
	for _, s := range m.meta {
		if s.Status == types.RunAwaitingReview {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a run.
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	delete(m.runs, runID)
	delete(m.meta, runID)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
