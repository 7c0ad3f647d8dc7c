// Package store persists flow results in SQL databases.
//
// SQLite is used for local runs and tests; Postgres for shared services.
// Both keep one row per flow run, with steps and tags stored as JSON.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

var (
	// ErrNotFound is returned when no run has the requested ID.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Summary is a listing entry without step records.
type Summary struct {
	RunID       string          `json:"runId"`
	FlowIndex   int             `json:"flowIndex"`
	Name        string          `json:"name"`
	Status      core.FlowStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartTime   time.Time       `json:"startTime"`
	TimelapseMs int64           `json:"timelapse"`
}

// row is the column form of a FlowResult.
type row struct {
	RunID       string
	FlowIndex   int
	Name        string
	SourcePath  string
	Status      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
	TimelapseMs int64
	Tags        []byte
	Steps       []byte
}

func toRow(res *core.FlowResult) (*row, error) {
	if res == nil || res.RunID == "" {
		return nil, fmt.Errorf("store: result without run id")
	}
	steps, err := json.Marshal(res.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	tags, err := json.Marshal(res.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return &row{
		RunID:       res.RunID,
		FlowIndex:   res.FlowIndex,
		Name:        res.Name,
		SourcePath:  res.SourcePath,
		Status:      string(res.Status),
		Error:       res.Error,
		StartedAt:   res.StartTime.UTC(),
		FinishedAt:  res.EndTime.UTC(),
		TimelapseMs: res.TimelapseMs,
		Tags:        tags,
		Steps:       steps,
	}, nil
}

func (r *row) result() (*core.FlowResult, error) {
	res := &core.FlowResult{
		RunID:       r.RunID,
		FlowIndex:   r.FlowIndex,
		Name:        r.Name,
		SourcePath:  r.SourcePath,
		Status:      core.FlowStatus(r.Status),
		Error:       r.Error,
		StartTime:   r.StartedAt,
		EndTime:     r.FinishedAt,
		TimelapseMs: r.TimelapseMs,
		Steps:       []core.StepRecord{},
	}
	if len(r.Steps) > 0 {
		if err := json.Unmarshal(r.Steps, &res.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &res.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return res, nil
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
