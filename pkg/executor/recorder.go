package executor

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
)

// recorder accumulates the FlowResult of one run.
type recorder struct {
	result *core.FlowResult
	now    func() time.Time
}

func newRecorder(f *flow.Flow, runID string, now func() time.Time) *recorder {
	if now == nil {
		now = time.Now
	}
	return &recorder{
		result: &core.FlowResult{
			RunID:      runID,
			FlowIndex:  f.Index(),
			Name:       f.Config.Name,
			SourcePath: f.SourcePath,
			Tags:       f.Config.Tags,
			Steps:      []core.StepRecord{},
		},
		now: now,
	}
}

func (r *recorder) begin() {
	r.result.StartTime = r.now()
}

// record appends an entry for step i with a copy of the context.
func (r *recorder) record(i int, step flow.Step, stepCtx core.StepContext, skipped bool) {
	r.result.Steps = append(r.result.Steps, core.StepRecord{
		Index:       i,
		Log:         stepLabel(i, step),
		ActionType:  string(step.Type()),
		TimelapseMs: r.now().Sub(r.result.StartTime).Milliseconds(),
		StepContext: stepCtx.Copy(),
		Skipped:     skipped,
	})
}

// finish stamps the end of the run and its outcome.
func (r *recorder) finish(failure error) *core.FlowResult {
	res := r.result
	res.EndTime = r.now()
	res.TimelapseMs = res.EndTime.Sub(res.StartTime).Milliseconds()

	if failure != nil {
		res.Status = core.StatusError
		res.Error = failure.Error()
		res.Failure = failure
	} else {
		res.Status = core.StatusSuccess
	}
	return res
}

// stepLabel is "Step N" (1-based) plus the step's log annotation.
func stepLabel(i int, step flow.Step) string {
	label := fmt.Sprintf("Step %d", i+1)
	if log := step.Common().Log; log != "" {
		label += ": " + log
	}
	return label
}
