package core

import (
	"time"
)

// Well-known StepContext keys.
const (
	ContextMessage       = "message"
	ContextStyleSnapshot = "styleSnapshot"
)

// StepContext carries values produced by one step for later steps of the
// same run. It is created per run and never shared between runs.
type StepContext map[string]interface{}

// NewStepContext returns an empty context.
func NewStepContext() StepContext {
	return StepContext{}
}

// Copy returns a deep copy. Nested maps and slices, as stored by scripts,
// are copied too so later writes never reach an earlier snapshot.
func (c StepContext) Copy() StepContext {
	out := make(StepContext, len(c))
	for k, v := range c {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch v := v.(type) {
	case StepContext:
		return v.Copy()
	case map[string]interface{}:
		return map[string]interface{}(StepContext(v).Copy())
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	default:
		return v
	}
}

// String returns the string value stored under key, or "".
func (c StepContext) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Message returns the human-readable message left by the last step.
func (c StepContext) Message() string {
	return c.String(ContextMessage)
}

// SetMessage records the human-readable outcome of a step.
func (c StepContext) SetMessage(msg string) {
	c[ContextMessage] = msg
}

// StepRecord is the immutable result entry for one executed or skipped step.
type StepRecord struct {
	Index       int         `json:"index"`       // 0-based position in the flow
	Log         string      `json:"log"`         // "Step N" plus the step's log annotation
	ActionType  string      `json:"actionType"`  // Wire tag of the step
	TimelapseMs int64       `json:"timelapse"`   // Elapsed since flow start
	StepContext StepContext `json:"stepContext"` // Context as it stood after the step
	Skipped     bool        `json:"skipped,omitempty"`
}

// FlowResult captures the complete outcome of executing a flow
type FlowResult struct {
	// Identity
	RunID      string   `json:"runId"`
	FlowIndex  int      `json:"flowIndex"`
	Name       string   `json:"name,omitempty"`
	SourcePath string   `json:"sourcePath,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	// Results
	Steps []StepRecord `json:"steps"`

	// Timing
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	TimelapseMs int64     `json:"timelapse"`

	// Outcome
	Status FlowStatus `json:"status"`
	Error  string     `json:"error,omitempty"` // Message of the first failure

	// Failure is the typed first failure, for errors.Is/As.
	Failure error `json:"-"`
}

// Success returns true if the flow finished without a failure.
func (f *FlowResult) Success() bool {
	return f.Status == StatusSuccess
}

// ExecutedSteps returns the number of records that were not skipped.
func (f *FlowResult) ExecutedSteps() int {
	n := 0
	for _, s := range f.Steps {
		if !s.Skipped {
			n++
		}
	}
	return n
}

// SuiteResult captures the outcome of executing multiple flows
type SuiteResult struct {
	// Identity
	RunID string `json:"runId"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results
	Flows []*FlowResult `json:"flows"`

	// Summary
	TotalFlows  int `json:"totalFlows"`
	PassedFlows int `json:"passedFlows"`
	FailedFlows int `json:"failedFlows"`
}

// ComputeSummary calculates flow counts from the Flows slice
func (s *SuiteResult) ComputeSummary() {
	s.TotalFlows = len(s.Flows)
	s.PassedFlows = 0
	s.FailedFlows = 0

	for _, flow := range s.Flows {
		if flow == nil {
			continue
		}
		if flow.Success() {
			s.PassedFlows++
		} else {
			s.FailedFlows++
		}
	}
}

// Success returns true if all flows passed
func (s *SuiteResult) Success() bool {
	for _, flow := range s.Flows {
		if flow == nil || !flow.Success() {
			return false
		}
	}
	return len(s.Flows) > 0
}
