// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/trialmatch/pkg/types"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists runs in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and creates the
// schema if it does not exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Save upserts the run row.
func (s *SQLiteStore) Save(ctx context.Context, state *types.PipelineRunState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, version, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			status=excluded.status, version=excluded.version,
			state=excluded.state, updated_at=excluded.updated_at`,
		state.RunID, string(state.Status), state.Version, string(data),
		state.CreatedAt.UTC().Format(timeLayout),
		state.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upserting run %s: %w", state.RunID, err)
	}
	return nil
}

// CompareAndSave updates the row only while its status column is expect.
func (s *SQLiteStore) CompareAndSave(ctx context.Context, expect types.RunStatus, state *types.PipelineRunState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, version = ?, state = ?, updated_at = ?
		 WHERE run_id = ? AND status = ?`,
		string(state.Status), state.Version, string(data),
		state.UpdatedAt.UTC().Format(timeLayout),
		state.RunID, string(expect),
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", state.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return missingOrChanged(ctx, s, state.RunID)
	}
	return nil
}

// Load decodes the stored state of runID.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*types.PipelineRunState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM runs WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return decode([]byte(data))
}

// ListPending returns runs awaiting review, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, status, created_at, updated_at FROM runs
		 WHERE status = ? ORDER BY created_at, run_id`, string(types.RunAwaitingReview))
	if err != nil {
		return nil, fmt.Errorf("listing pending runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var status, created, updated string
		if err := rows.Scan(&r.RunID, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.Status = types.RunStatus(status)
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		r.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a run row.
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
