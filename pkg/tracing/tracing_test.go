package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestProvider_WritesSpans(t *testing.T) {
	out := &closeBuffer{}
	p, err := NewProvider(out, AttrRunID.String("run-1"))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	ctx, flowSpan := p.Start(context.Background(), "flow", AttrFlowName.String("checkout"))
	_, stepSpan := p.Start(ctx, "click", AttrStepIndex.Int(0), AttrSelector.String("#pay"))
	End(stepSpan, errors.New("unable to find element"))
	End(flowSpan, nil)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !out.closed {
		t.Error("trace writer was not closed")
	}

	trace := out.String()
	for _, want := range []string{`"Name": "flow"`, `"Name": "click"`, "unable to find element", "checkout", "run-1"} {
		if !strings.Contains(trace, want) {
			t.Errorf("trace output missing %q", want)
		}
	}
}

func TestNoop(t *testing.T) {
	p := Noop()
	_, span := p.Start(context.Background(), "flow")
	End(span, nil)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
