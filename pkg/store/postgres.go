package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flow_runs (
	run_id       UUID PRIMARY KEY,
	flow_index   INTEGER NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	source_path  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	timelapse_ms BIGINT NOT NULL,
	tags         JSONB NOT NULL DEFAULT '[]',
	steps        JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_flow_runs_started ON flow_runs(started_at DESC);
`

// Postgres stores results in a Postgres database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, verifies the connection and creates the
// schema if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// WriteResult inserts or updates the row for res.RunID.
func (p *Postgres) WriteResult(ctx context.Context, res *core.FlowResult) error {
	r, err := toRow(res)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flow_runs (run_id, flow_index, name, source_path, status, error,
		                       started_at, finished_at, timelapse_ms, tags, steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at,
			timelapse_ms = EXCLUDED.timelapse_ms,
			steps = EXCLUDED.steps
	`
	_, err = p.pool.Exec(ctx, query,
		r.RunID,
		r.FlowIndex,
		r.Name,
		r.SourcePath,
		r.Status,
		r.Error,
		r.StartedAt,
		r.FinishedAt,
		r.TimelapseMs,
		r.Tags,
		r.Steps,
	)
	if err != nil {
		return fmt.Errorf("insert flow run: %w", err)
	}
	return nil
}

// Get returns the stored result for runID.
func (p *Postgres) Get(ctx context.Context, runID string) (*core.FlowResult, error) {
	query := `
		SELECT run_id::text, flow_index, name, source_path, status, error,
		       started_at, finished_at, timelapse_ms, tags, steps
		FROM flow_runs
		WHERE run_id = $1
	`
	var r row
	err := p.pool.QueryRow(ctx, query, runID).Scan(
		&r.RunID, &r.FlowIndex, &r.Name, &r.SourcePath, &r.Status, &r.Error,
		&r.StartedAt, &r.FinishedAt, &r.TimelapseMs, &r.Tags, &r.Steps,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query flow run: %w", err)
	}
	return r.result()
}

// List returns the most recent runs, newest first.
func (p *Postgres) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `
		SELECT run_id::text, flow_index, name, status, error, started_at, timelapse_ms
		FROM flow_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := p.pool.Query(ctx, query, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list flow runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum    Summary
			status string
		)
		if err := rows.Scan(&sum.RunID, &sum.FlowIndex, &sum.Name, &status, &sum.Error, &sum.StartTime, &sum.TimelapseMs); err != nil {
			return nil, fmt.Errorf("scan flow run: %w", err)
		}
		sum.Status = core.FlowStatus(status)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
