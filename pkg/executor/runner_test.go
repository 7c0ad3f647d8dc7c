package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/driver/mock"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/session"
)

// collectSink records every result it receives.
type collectSink struct {
	mu      sync.Mutex
	results []*core.FlowResult
	err     error
}

func (c *collectSink) WriteResult(ctx context.Context, res *core.FlowResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	return c.err
}

// closingSession counts Close calls.
type closingSession struct {
	*mock.Session
	closed *int32
}

func (c closingSession) Close() error {
	atomic.AddInt32(c.closed, 1)
	return nil
}

func TestRunner_RunsAllFlowsInOrder(t *testing.T) {
	var closed int32
	factory := SessionFactoryFunc(func(ctx context.Context) (session.Session, error) {
		return closingSession{Session: validatingForm(), closed: &closed}, nil
	})
	sink := &collectSink{err: errors.New("sink down")}

	flows := []*flow.Flow{
		{Config: flow.Config{Name: "ok", FlowIndex: 1}, Steps: styleChangeFlow().Steps},
		{Config: flow.Config{Name: "broken", FlowIndex: 2}, Steps: []flow.Step{&flow.ClickStep{Selector: "#missing"}}},
		{Config: flow.Config{Name: "title", FlowIndex: 3}, Steps: []flow.Step{
			&flow.NavigateStep{URL: formURL},
			&flow.AssertPageTitleStep{Value: "Sample Form"},
		}},
	}

	r := New(factory, RunnerConfig{Parallelism: 2, Sinks: []ResultSink{sink}})
	suite, err := r.Run(context.Background(), flows)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if suite.TotalFlows != 3 || suite.PassedFlows != 2 || suite.FailedFlows != 1 {
		t.Errorf("summary = %d/%d/%d", suite.TotalFlows, suite.PassedFlows, suite.FailedFlows)
	}
	for i, name := range []string{"ok", "broken", "title"} {
		if suite.Flows[i].Name != name {
			t.Errorf("flow %d = %q, want %q", i, suite.Flows[i].Name, name)
		}
	}
	if suite.Success() {
		t.Error("suite with a failed flow should not succeed")
	}
	if len(sink.results) != 3 {
		t.Errorf("sink got %d results", len(sink.results))
	}
	if atomic.LoadInt32(&closed) != 3 {
		t.Errorf("closed %d sessions, want 3", closed)
	}
	if suite.RunID == "" || suite.Flows[0].RunID == suite.Flows[2].RunID {
		t.Error("expected distinct run IDs")
	}
}

func TestRunner_SessionFailure(t *testing.T) {
	factory := SessionFactoryFunc(func(ctx context.Context) (session.Session, error) {
		return nil, errors.New("browser crashed")
	})

	suite, err := New(factory, RunnerConfig{}).Run(context.Background(), []*flow.Flow{newFlow()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := suite.Flows[0]
	if res.Status != core.StatusError || res.Error != "opening session: browser crashed" {
		t.Errorf("Status = %s, Error = %q", res.Status, res.Error)
	}
}

func TestRunner_ParallelismLimit(t *testing.T) {
	var active, peak int32
	factory := SessionFactoryFunc(func(ctx context.Context) (session.Session, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		return staticForm(), nil
	})

	var flows []*flow.Flow
	for i := 0; i < 6; i++ {
		flows = append(flows, newFlow(&flow.SleepStep{Value: "10"}))
	}
	cfg := RunnerConfig{
		Parallelism: 2,
		OnFlowEnd: func(string, bool, int64) {
			atomic.AddInt32(&active, -1)
		},
	}
	if _, err := New(factory, cfg).Run(context.Background(), flows); err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	factory := SessionFactoryFunc(func(ctx context.Context) (session.Session, error) {
		return staticForm(), nil
	})
	flows := []*flow.Flow{
		newFlow(&flow.SleepStep{Value: "5000"}),
		newFlow(&flow.SleepStep{Value: "5000"}),
	}

	suite, err := New(factory, RunnerConfig{}).Run(ctx, flows)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v", err)
	}
	for i, res := range suite.Flows {
		if res == nil || !errors.Is(res.Failure, core.ErrCancelled) {
			t.Errorf("flow %d: %+v", i, res)
		}
	}
}

func TestRunner_RunFlowKeepsSessionOpen(t *testing.T) {
	var closed int32
	s := closingSession{Session: staticForm(), closed: &closed}

	res := New(nil, RunnerConfig{}).RunFlow(context.Background(), newFlow(&flow.NavigateStep{URL: formURL}), s)
	if !res.Success() {
		t.Fatal(res.Error)
	}
	if closed != 0 {
		t.Error("RunFlow closed a borrowed session")
	}
}
