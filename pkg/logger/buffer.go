package logger

import (
	"fmt"
	"sync"
)

// Buffer collects the log lines of one flow run so they can be written
// out with the run's artifacts. Every line is also sent to the global log.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Step records a step banner, e.g. "Step 2: submit form".
func (b *Buffer) Step(format string, v ...interface{}) {
	b.add("step", "INFO", format, v...)
}

// Info records an informational line.
func (b *Buffer) Info(format string, v ...interface{}) {
	b.add("info", "INFO", format, v...)
}

// Error records a failure line.
func (b *Buffer) Error(format string, v ...interface{}) {
	b.add("error", "ERROR", format, v...)
}

func (b *Buffer) add(kind, level, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	printf(level, "%s", msg)

	b.mu.Lock()
	b.lines = append(b.lines, fmt.Sprintf("[%s] %s", kind, msg))
	b.mu.Unlock()
}

// Lines returns a copy of the collected lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
