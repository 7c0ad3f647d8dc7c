package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, wait_timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches another ExecutionError with the same code, so copies made by
// the With* helpers still match their predefined error.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithMessagef is WithMessage with formatting.
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Resolution errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryResolution,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrFrameNotFound = &ExecutionError{
		Category: ErrCategoryResolution,
		Code:     "frame_not_found",
		Message:  "frame not found",
	}

	// Assertion errors
	ErrAssertionFailed = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "assertion_failed",
		Message:  "assertion failed",
	}
	ErrNoStyleChange = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "no_style_change",
		Message:  "no style change detected",
	}

	// Timeout errors
	ErrWaitTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "wait_timeout",
		Message:  "wait condition timed out",
	}

	// Unsupported actions
	ErrUnsupportedAction = &ExecutionError{
		Category: ErrCategoryUnsupported,
		Code:     "unsupported_action",
		Message:  "action is not supported",
	}

	// Config errors
	ErrMissingField = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_field",
		Message:  "missing required field",
	}
	ErrInvalidField = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_field",
		Message:  "invalid field value",
	}
	ErrNoSnapshot = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "no_snapshot",
		Message:  "no style snapshot taken before assertStyleChange",
	}

	// Artifact errors
	ErrNoArtifactSink = &ExecutionError{
		Category: ErrCategoryArtifact,
		Code:     "no_artifact_sink",
		Message:  "no artifact sink configured",
	}

	// Run errors
	ErrCancelled = &ExecutionError{
		Category: ErrCategoryCancelled,
		Code:     "cancelled",
		Message:  "flow cancelled",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's
// chain. Errors from custom hooks and drivers report ErrCategoryCustom.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ErrCategoryCustom
}
