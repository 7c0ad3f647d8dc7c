package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS flow_runs (
	run_id       TEXT PRIMARY KEY,
	flow_index   INTEGER NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	source_path  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	timelapse_ms INTEGER NOT NULL,
	tags         TEXT NOT NULL DEFAULT '[]',
	steps        TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_flow_runs_started ON flow_runs(started_at DESC);
`

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite stores results in a SQLite database file.
type SQLite struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path. ":memory:" keeps
// everything in a single in-memory connection.
func OpenSQLite(path string) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	inMemory := path == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// WriteResult inserts or replaces the row for res.RunID.
func (s *SQLite) WriteResult(ctx context.Context, res *core.FlowResult) error {
	r, err := toRow(res)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_runs (run_id, flow_index, name, source_path, status, error,
		                       started_at, finished_at, timelapse_ms, tags, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at,
			timelapse_ms = excluded.timelapse_ms,
			steps = excluded.steps
	`,
		r.RunID, r.FlowIndex, r.Name, r.SourcePath, r.Status, r.Error,
		r.StartedAt.Format(timeLayout), r.FinishedAt.Format(timeLayout),
		r.TimelapseMs, string(r.Tags), string(r.Steps),
	)
	if err != nil {
		return fmt.Errorf("insert flow run: %w", err)
	}
	return nil
}

// Get returns the stored result for runID.
func (s *SQLite) Get(ctx context.Context, runID string) (*core.FlowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	var (
		r                 row
		started, finished string
		tags, steps       string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, flow_index, name, source_path, status, error,
		       started_at, finished_at, timelapse_ms, tags, steps
		FROM flow_runs WHERE run_id = ?
	`, runID).Scan(&r.RunID, &r.FlowIndex, &r.Name, &r.SourcePath, &r.Status, &r.Error,
		&started, &finished, &r.TimelapseMs, &tags, &steps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query flow run: %w", err)
	}

	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	r.Tags = []byte(tags)
	r.Steps = []byte(steps)
	return r.result()
}

// List returns the most recent runs, newest first.
func (s *SQLite) List(ctx context.Context, limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, flow_index, name, status, error, started_at, timelapse_ms
		FROM flow_runs ORDER BY started_at DESC LIMIT ?
	`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list flow runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			status  string
			started string
		)
		if err := rows.Scan(&sum.RunID, &sum.FlowIndex, &sum.Name, &status, &sum.Error, &started, &sum.TimelapseMs); err != nil {
			return nil, fmt.Errorf("scan flow run: %w", err)
		}
		sum.Status = core.FlowStatus(status)
		sum.StartTime, _ = time.Parse(timeLayout, started)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
