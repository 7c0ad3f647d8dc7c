// Package sheet appends flow results to an Excel workbook.
//
// The workbook has two sheets: "Runs" with one row per flow run and
// "Steps" with one row per step record. Existing workbooks are extended.
package sheet

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

// Sheet names.
const (
	RunsSheet  = "Runs"
	StepsSheet = "Steps"
)

var (
	runsHeader  = []interface{}{"Run ID", "Flow", "Name", "Source", "Status", "Error", "Started", "Duration (ms)", "Steps", "Skipped"}
	stepsHeader = []interface{}{"Run ID", "Flow", "Step", "Action", "Log", "Timelapse (ms)", "Skipped", "Message"}
)

// Writer appends results to the workbook at path.
type Writer struct {
	mu    sync.Mutex
	path  string
	file  *excelize.File
	rows  map[string]int // Next free row per sheet
	dirty bool
}

// Open opens the workbook at path, or creates it.
func Open(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("sheet: empty path")
	}

	var (
		f   *excelize.File
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		f, err = excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("sheet: open %s: %w", path, err)
		}
	} else {
		f = excelize.NewFile()
	}

	w := &Writer{path: path, file: f, rows: make(map[string]int)}
	if err := w.ensureSheet(RunsSheet, runsHeader); err != nil {
		f.Close()
		return nil, err
	}
	if err := w.ensureSheet(StepsSheet, stepsHeader); err != nil {
		f.Close()
		return nil, err
	}
	// NewFile starts with an unused default sheet.
	if idx, _ := f.GetSheetIndex("Sheet1"); idx >= 0 {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			f.Close()
			return nil, fmt.Errorf("sheet: remove default sheet: %w", err)
		}
	}
	return w, nil
}

func (w *Writer) ensureSheet(name string, header []interface{}) error {
	idx, err := w.file.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("sheet: %s: %w", name, err)
	}
	if idx < 0 {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("sheet: create %s: %w", name, err)
		}
		if err := w.file.SetSheetRow(name, "A1", &header); err != nil {
			return fmt.Errorf("sheet: header %s: %w", name, err)
		}
		w.rows[name] = 2
		w.dirty = true
		return nil
	}

	rows, err := w.file.GetRows(name)
	if err != nil {
		return fmt.Errorf("sheet: read %s: %w", name, err)
	}
	w.rows[name] = len(rows) + 1
	return nil
}

// WriteResult appends res and saves the workbook.
func (w *Writer) WriteResult(ctx context.Context, res *core.FlowResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("sheet: closed")
	}

	skipped := len(res.Steps) - res.ExecutedSteps()
	run := []interface{}{
		res.RunID, res.FlowIndex, res.Name, res.SourcePath, string(res.Status), res.Error,
		res.StartTime.Format("2006-01-02 15:04:05"), res.TimelapseMs, len(res.Steps), skipped,
	}
	if err := w.appendRow(RunsSheet, run); err != nil {
		return err
	}

	for _, step := range res.Steps {
		row := []interface{}{
			res.RunID, res.FlowIndex, step.Index + 1, step.ActionType, step.Log,
			step.TimelapseMs, step.Skipped, firstLine(step.StepContext.Message()),
		}
		if err := w.appendRow(StepsSheet, row); err != nil {
			return err
		}
	}

	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("sheet: save %s: %w", w.path, err)
	}
	w.dirty = false
	return nil
}

func (w *Writer) appendRow(sheet string, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, w.rows[sheet])
	if err != nil {
		return fmt.Errorf("sheet: %w", err)
	}
	if err := w.file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("sheet: write %s!%s: %w", sheet, cell, err)
	}
	w.rows[sheet]++
	return nil
}

// Close saves pending changes and releases the workbook.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	var err error
	if w.dirty {
		err = w.file.SaveAs(w.path)
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
