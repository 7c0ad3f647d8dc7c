package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

func sampleResult(id string, start time.Time, status core.FlowStatus) *core.FlowResult {
	return &core.FlowResult{
		RunID:      id,
		FlowIndex:  1,
		Name:       "form",
		SourcePath: "flows/form.yaml",
		Tags:       []string{"smoke"},
		Steps: []core.StepRecord{
			{Index: 0, Log: "Step 1", ActionType: "url", TimelapseMs: 12,
				StepContext: core.StepContext{"message": "Opened URL https://example.com"}},
		},
		StartTime:   start,
		EndTime:     start.Add(2 * time.Second),
		TimelapseMs: 2000,
		Status:      status,
	}
}

func TestSQLite_WriteGetList(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := sampleResult("run-1", base, core.StatusSuccess)
	second := sampleResult("run-2", base.Add(time.Minute), core.StatusError)
	second.Error = "no style change detected for form"

	for _, res := range []*core.FlowResult{first, second} {
		if err := s.WriteResult(ctx, res); err != nil {
			t.Fatalf("WriteResult() error = %v", err)
		}
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "form" || got.Status != core.StatusSuccess || !got.StartTime.Equal(base) {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].StepContext.Message() != "Opened URL https://example.com" {
		t.Errorf("steps = %+v", got.Steps)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "smoke" {
		t.Errorf("tags = %v", got.Tags)
	}

	list, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].RunID != "run-2" || list[0].Error == "" {
		t.Errorf("List() = %+v", list)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
}

func TestSQLite_UpsertReplacesOutcome(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()

	res := sampleResult("run-1", time.Now(), core.StatusError)
	res.Error = "first"
	if err := s.WriteResult(ctx, res); err != nil {
		t.Fatal(err)
	}
	res.Status = core.StatusSuccess
	res.Error = ""
	if err := s.WriteResult(ctx, res); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.StatusSuccess || got.Error != "" {
		t.Errorf("Get() = %s %q", got.Status, got.Error)
	}
}

func TestSQLite_Closed(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteResult(context.Background(), sampleResult("x", time.Now(), core.StatusSuccess)); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteResult() after Close error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestToRow_RequiresRunID(t *testing.T) {
	if _, err := toRow(&core.FlowResult{}); err == nil {
		t.Error("expected error for missing run id")
	}
	if _, err := toRow(nil); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestNewPostgres_InvalidDSN(t *testing.T) {
	if _, err := NewPostgres(context.Background(), "postgres://%zz"); err == nil {
		t.Error("expected error for invalid dsn")
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite(" "); err == nil {
		t.Error("expected error for empty path")
	}
}
