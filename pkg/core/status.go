package core

// FlowStatus is the terminal outcome of a flow run. Its string values are
// the wire values written to result.json.
type FlowStatus string

const (
	StatusSuccess FlowStatus = "success"
	StatusError   FlowStatus = "error"
)

// RunState tracks a flow run through its lifecycle:
// pending -> running -> success | error.
type RunState int

const (
	StatePending RunState = iota // Not yet started
	StateRunning                 // Executing steps
	StateSuccess                 // Every step completed or was skipped
	StateError                   // A step failed or the run was cancelled
)

// String returns the string representation of RunState
func (s RunState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the state is final
func (s RunState) IsTerminal() bool {
	return s == StateSuccess || s == StateError
}

// Status maps a terminal state to its FlowStatus.
func (s RunState) Status() FlowStatus {
	if s == StateSuccess {
		return StatusSuccess
	}
	return StatusError
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone        ErrorCategory = iota // No error
	ErrCategoryResolution                       // Element or frame could not be resolved
	ErrCategoryAssertion                        // Assertion did not hold
	ErrCategoryTimeout                          // Wait timed out
	ErrCategoryUnsupported                      // Unknown action type
	ErrCategoryCustom                           // Error raised by a custom hook or driver
	ErrCategoryConfig                           // Missing or invalid step fields
	ErrCategoryArtifact                         // Artifact could not be written
	ErrCategoryCancelled                        // Run cancelled by the caller
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryResolution:
		return "resolution"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryUnsupported:
		return "unsupported"
	case ErrCategoryCustom:
		return "custom"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryArtifact:
		return "artifact"
	case ErrCategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
