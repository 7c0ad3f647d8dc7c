package executor

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/driver/mock"
	"github.com/devicelab-dev/uxflow/pkg/flow"
)

const formURL = "https://example.com/form"

// formPage is a signup form with a payments iframe and a receipt iframe.
const formPage = `<html><head><title>Sample Form</title></head><body>
<form class="signup">
  <div class="row"><input name="email" class="field"></div>
  <select id="size"><option value="s">Small</option><option value="m">Medium</option></select>
  <button type="submit">Go</button>
</form>
<p id="note">Tom &amp;amp; Jerry</p>
<iframe name="payments" srcdoc="<html><head><title>Pay</title></head><body><div class='card'>Card</div></body></html>"></iframe>
<iframe name="receipt" srcdoc="<html><body><span id='total'>42</span></body></html>"></iframe>
</body></html>`

// validatingForm marks the email field invalid when the form is submitted.
func validatingForm() *mock.Session {
	return mock.New(mock.Config{
		Pages: map[string]string{formURL: formPage},
		Hooks: mock.AddClassOnClick("button[type=submit]", "input[name=email]", "invalid"),
	})
}

// staticForm never changes on submit.
func staticForm() *mock.Session {
	return mock.New(mock.Config{Pages: map[string]string{formURL: formPage}})
}

func newFlow(steps ...flow.Step) *flow.Flow {
	return &flow.Flow{Config: flow.Config{Name: "form"}, Steps: steps}
}

// memSink is an in-memory core.ArtifactSink recording the order of writes.
type memSink struct {
	mu     sync.Mutex
	events []string
	files  map[string][]byte
	logs   []string
	trace  bytes.Buffer
	fail   error
}

func newMemSink() *memSink {
	return &memSink{files: make(map[string][]byte)}
}

func (m *memSink) put(event string, flowIndex int, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if m.fail != nil {
		return m.fail
	}
	m.files[fmt.Sprintf("flow-%d/%s", flowIndex, name)] = data
	return nil
}

func (m *memSink) WriteScreenshot(flowIndex int, filename string, png []byte) error {
	return m.put("screenshot "+filename, flowIndex, filename, png)
}

func (m *memSink) WriteHTML(flowIndex int, filename, html string) error {
	return m.put("html "+filename, flowIndex, filename, []byte(html))
}

func (m *memSink) WriteResult(flowIndex int, data []byte) error {
	return m.put("result", flowIndex, core.ResultFile, data)
}

func (m *memSink) WriteLogs(lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "logs")
	m.logs = append(m.logs, lines...)
	return m.fail
}

func (m *memSink) TraceWriter(flowIndex int) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, "trace")
	return nopWriteCloser{&m.trace}, nil
}

func (m *memSink) file(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[name]
}

func (m *memSink) eventLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
