// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pdiddy/trialmatch/pkg/types"
)

// MigrationRuns creates the runs table. It is safe to execute repeatedly.
const MigrationRuns = `
CREATE TABLE IF NOT EXISTS trialmatch_runs (
    run_id     TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    version    INTEGER NOT NULL,
    state      JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trialmatch_runs_status ON trialmatch_runs (status);
`

type pgRow interface {
	Scan(dest ...any) error
}

// pgConn is the subset of *pgxpool.Pool the store uses.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Close()
}

type poolConn struct {
	pool *pgxpool.Pool
}

func (p poolConn) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p poolConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	return tag.RowsAffected(), err
}

func (p poolConn) Close() { p.pool.Close() }

// PostgresStore persists runs as JSONB rows.
type PostgresStore struct {
	db pgConn
}

// NewPostgresStore connects to dsn, pings, and applies MigrationRuns.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PostgresStore{db: poolConn{pool: pool}}
	if _, err := s.db.Exec(ctx, MigrationRuns); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating runs table: %w", err)
	}
	return s, nil
}

// Save upserts the run row.
func (s *PostgresStore) Save(ctx context.Context, state *types.PipelineRunState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	const query = `INSERT INTO trialmatch_runs (run_id, status, version, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status,
                                   version = EXCLUDED.version,
                                   state = EXCLUDED.state,
                                   updated_at = EXCLUDED.updated_at`
	if _, err := s.db.Exec(ctx, query, state.RunID, string(state.Status), state.Version, data, state.CreatedAt, state.UpdatedAt); err != nil {
		return fmt.Errorf("save run %s: %w", state.RunID, err)
	}
	return nil
}

// CompareAndSave updates the row only while its status column is expect.
func (s *PostgresStore) CompareAndSave(ctx context.Context, expect types.RunStatus, state *types.PipelineRunState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	const query = `UPDATE trialmatch_runs SET status = $1, version = $2, state = $3, updated_at = $4
WHERE run_id = $5 AND status = $6`
	n, err := s.db.Exec(ctx, query, string(state.Status), state.Version, data, state.UpdatedAt, state.RunID, string(expect))
	if err != nil {
		return fmt.Errorf("update run %s: %w", state.RunID, err)
	}
	if n == 0 {
		return missingOrChanged(ctx, s, state.RunID)
	}
	return nil
}

// Load decodes the stored state of runID.
func (s *PostgresStore) Load(ctx context.Context, runID string) (*types.PipelineRunState, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT state FROM trialmatch_runs WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return decode(data)
}

// ListPending aggregates the pending rows into one JSON array so the store
// needs only single-row queries.
func (s *PostgresStore) ListPending(ctx context.Context) ([]RunSummary, error) {
	const query = `SELECT COALESCE(json_agg(json_build_object(
    'run_id', run_id, 'status', status, 'created_at', created_at, 'updated_at', updated_at)
    ORDER BY created_at, run_id), '[]'::json)
FROM trialmatch_runs WHERE status = $1`
	var data []byte
	if err := s.db.QueryRow(ctx, query, string(types.RunAwaitingReview)).Scan(&data); err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	var rows []struct {
		RunID     string    `json:"run_id"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode pending runs: %w", err)
	}
	out := make([]RunSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, RunSummary{RunID: r.RunID, Status: types.RunStatus(r.Status), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

// Delete removes a run row.
func (s *PostgresStore) Delete(ctx context.Context, runID string) error {
	n, err := s.db.Exec(ctx, `DELETE FROM trialmatch_runs WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
