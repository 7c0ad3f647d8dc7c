// Package core provides the execution model types for uxflow.
package core

import (
	"io"
)

// Artifact file names under a flow's output directory.
const (
	FinalScreenshotFile = "step-final.png"
	FinalHTMLFile       = "output-step-final.html"
	ResultFile          = "result.json"
	TraceFile           = "trace.json"
	LogsFile            = "output-logs.txt"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeHTML = "text/html"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// ArtifactSink persists the side outputs of a flow run. Implementations
// decide where the bytes go; the executor only names them.
type ArtifactSink interface {
	// WriteScreenshot stores PNG data under the flow's directory.
	WriteScreenshot(flowIndex int, filename string, png []byte) error

	// WriteHTML stores an HTML fragment or document under the flow's directory.
	WriteHTML(flowIndex int, filename, html string) error

	// WriteResult stores the serialized FlowResult. It is called once with a
	// placeholder when the run starts and again with the final result.
	WriteResult(flowIndex int, data []byte) error

	// WriteLogs stores the run's collected log lines.
	WriteLogs(lines []string) error

	// TraceWriter returns a writer for the flow's trace file.
	TraceWriter(flowIndex int) (io.WriteCloser, error)
}

// NullArtifactSink discards every artifact.
type NullArtifactSink struct{}

func (NullArtifactSink) WriteScreenshot(int, string, []byte) error { return nil }
func (NullArtifactSink) WriteHTML(int, string, string) error       { return nil }
func (NullArtifactSink) WriteResult(int, []byte) error             { return nil }
func (NullArtifactSink) WriteLogs([]string) error                  { return nil }
func (NullArtifactSink) TraceWriter(int) (io.WriteCloser, error)   { return nopCloser{io.Discard}, nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
