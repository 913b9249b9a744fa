// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists PipelineRunState blobs keyed by run id, so a run
// suspended for review survives a process restart.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pdiddy/trialmatch/pkg/types"
)

// ErrNotFound is returned by Load and Delete for an unknown run id.
var ErrNotFound = errors.New("run not found")

// ErrStatusChanged is returned by CompareAndSave when another writer moved
// the run out of the expected status first.
var ErrStatusChanged = errors.New("run status changed")

// Store saves and loads full run states.
type Store interface {
	// Save inserts or replaces the state under its RunID.
	Save(ctx context.Context, state *types.PipelineRunState) error
	// CompareAndSave replaces the stored state only while the stored status
	// is still expect. Exactly one of several concurrent callers expecting
	// the same status succeeds; the rest get ErrStatusChanged.
	CompareAndSave(ctx context.Context, expect types.RunStatus, state *types.PipelineRunState) error
	Load(ctx context.Context, runID string) (*types.PipelineRunState, error)
	// ListPending returns runs awaiting review, oldest first.
	ListPending(ctx context.Context) ([]RunSummary, error)
	Delete(ctx context.Context, runID string) error
	Close() error
}

// RunSummary is the listing row for a stored run.
type RunSummary struct {
	RunID     string          `json:"run_id" yaml:"run_id"`
	Status    types.RunStatus `json:"status" yaml:"status"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" yaml:"updated_at"`
}

// Open returns the store selected by cfg.
func Open(ctx context.Context, cfg types.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case types.StoreMemory, "":
		return NewMemoryStore(), nil
	case types.StoreSQLite:
		return NewSQLiteStore(cfg.Path)
	case types.StorePostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func encode(state *types.PipelineRunState) ([]byte, error) {
	if state == nil || state.RunID == "" {
		return nil, errors.New("state has no run id")
	}
	if state.Version != types.StateVersion {
		return nil, fmt.Errorf("refusing to save state version %d (want %d)", state.Version, types.StateVersion)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshaling state %s: %w", state.RunID, err)
	}
	return data, nil
}

func decode(data []byte) (*types.PipelineRunState, error) {
	var state types.PipelineRunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshaling state: %w", err)
	}
	if state.Version != types.StateVersion {
		return nil, fmt.Errorf("unsupported state version %d for run %s (want %d)", state.Version, state.RunID, types.StateVersion)
	}
	return &state, nil
}

// missingOrChanged resolves a conditional write that matched no row.
func missingOrChanged(ctx context.Context, s Store, runID string) error {
	if _, err := s.Load(ctx, runID); err != nil {
		return err
	}
	return ErrStatusChanged
}

func summaryOf(s *types.PipelineRunState) RunSummary {
	return RunSummary{RunID: s.RunID, Status: s.Status, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}
