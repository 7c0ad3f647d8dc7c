// Package artifact writes flow outputs to disk.
//
// Layout under the output directory:
//
//	<output>/
//	├── output-logs.txt
//	├── flow-1/
//	│   ├── result.json
//	│   ├── step-final.png
//	│   ├── output-step-final.html
//	│   ├── trace.json
//	│   └── <files named by screenshot and writeToFile steps>
//	└── flow-2/
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/devicelab-dev/uxflow/pkg/core"
)

// FileSink implements core.ArtifactSink on the local file system.
type FileSink struct {
	dir  string
	mu   sync.Mutex // serializes appends to the shared log file
	logs string
}

var _ core.ArtifactSink = (*FileSink)(nil)

// NewFileSink creates dir if needed and returns a sink writing below it.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact: empty output directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", dir, err)
	}
	return &FileSink{dir: dir, logs: filepath.Join(dir, core.LogsFile)}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// FlowDir returns the directory holding a flow's artifacts.
func (s *FileSink) FlowDir(flowIndex int) string {
	return filepath.Join(s.dir, fmt.Sprintf("flow-%d", flowIndex))
}

// WriteScreenshot stores PNG data as filename in the flow directory.
func (s *FileSink) WriteScreenshot(flowIndex int, filename string, png []byte) error {
	return s.write(flowIndex, filename, png)
}

// WriteHTML stores html as filename in the flow directory.
func (s *FileSink) WriteHTML(flowIndex int, filename, html string) error {
	return s.write(flowIndex, filename, []byte(html))
}

// WriteResult replaces the flow's result.json.
func (s *FileSink) WriteResult(flowIndex int, data []byte) error {
	return s.write(flowIndex, core.ResultFile, data)
}

// WriteLogs appends lines to output-logs.txt.
func (s *FileSink) WriteLogs(lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("artifact: open logs: %w", err)
	}
	defer f.Close()

	if len(lines) == 0 {
		return nil
	}
	if _, err := io.WriteString(f, strings.Join(lines, "\n")+"\n"); err != nil {
		return fmt.Errorf("artifact: write logs: %w", err)
	}
	return nil
}

// TraceWriter creates the flow's trace.json.
func (s *FileSink) TraceWriter(flowIndex int) (io.WriteCloser, error) {
	dir := s.FlowDir(flowIndex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", dir, err)
	}
	f, err := os.Create(filepath.Join(dir, core.TraceFile))
	if err != nil {
		return nil, fmt.Errorf("artifact: create trace: %w", err)
	}
	return f, nil
}

// write stores data atomically via a temp file and rename.
func (s *FileSink) write(flowIndex int, filename string, data []byte) error {
	name, err := cleanName(filename)
	if err != nil {
		return err
	}

	path := filepath.Join(s.FlowDir(flowIndex), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: create %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: rename %s: %w", name, err)
	}
	return nil
}

// cleanName keeps step-supplied file names inside the flow directory.
func cleanName(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("artifact: empty file name")
	}
	name := filepath.Clean(filepath.FromSlash(filename))
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact: file name %q escapes the flow directory", filename)
	}
	return name, nil
}
