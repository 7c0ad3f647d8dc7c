package sheet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

func result(id string, status core.FlowStatus) *core.FlowResult {
	return &core.FlowResult{
		RunID:     id,
		FlowIndex: 1,
		Name:      "form",
		Status:    status,
		StartTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Steps: []core.StepRecord{
			{Index: 0, Log: "Step 1", ActionType: "url", StepContext: core.StepContext{"message": "Opened URL x"}},
			{Index: 1, Log: "Step 2", ActionType: "assertStyleChange", Skipped: true,
				StepContext: core.StepContext{"message": "Style changed for form\n--- before"}},
		},
	}
}

func TestWriter_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	ctx := context.Background()

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.WriteResult(ctx, result("run-1", core.StatusSuccess)); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if err := w.WriteResult(ctx, result("run-2", core.StatusError)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	runs, err := f.GetRows(RunsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected header + 2 runs, got %d rows", len(runs))
	}
	if runs[1][0] != "run-1" || runs[2][0] != "run-2" || runs[2][4] != "error" {
		t.Errorf("runs = %v", runs)
	}
	if runs[1][9] != "1" {
		t.Errorf("skipped count = %q", runs[1][9])
	}

	steps, _ := f.GetRows(StepsSheet)
	if len(steps) != 5 {
		t.Fatalf("expected header + 4 steps, got %d rows", len(steps))
	}
	if steps[2][7] != "Style changed for form" {
		t.Errorf("message = %q", steps[2][7])
	}

	if idx, _ := f.GetSheetIndex("Sheet1"); idx >= 0 {
		t.Error("default sheet should be removed")
	}
}

func TestWriter_Closed(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "r.xlsx"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteResult(context.Background(), result("x", core.StatusSuccess)); err == nil {
		t.Error("expected error after Close")
	}
}
