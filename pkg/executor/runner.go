// Package executor runs flows: it resolves each step's target, dispatches
// the step, and records the outcome.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/session"
)

// DefaultStepDelay is the pause after every step applied by config.Config
// when stepDelayMs is unset.
const DefaultStepDelay = time.Second

// RunnerConfig configures flow execution. The zero value runs steps back to
// back: callers wanting the standard pause set StepDelay to
// DefaultStepDelay, as the CLI, server and worker do.
type RunnerConfig struct {
	StepDelay   time.Duration              // Pause after every executed step (0 = none, see DefaultStepDelay)
	WaitTimeout time.Duration              // Default element wait (0 = DefaultWaitTimeout)
	Parallelism int                        // Max concurrent flows in a batch (0 = sequential)
	Artifacts   core.ArtifactSink          // Screenshots, HTML, result.json, logs, traces
	Funcs       map[string]flow.CustomFunc // Named customFunc hooks
	Sinks       []ResultSink               // Receive every finished FlowResult in a batch

	// Live progress callbacks
	OnFlowStart    func(flowIdx, totalFlows int, name string)
	OnStepComplete func(idx int, desc string, passed bool, durationMs int64, err string)
	OnFlowEnd      func(name string, passed bool, durationMs int64)
}

func (c RunnerConfig) dispatcher() *Dispatcher {
	return &Dispatcher{
		Funcs:       c.Funcs,
		Artifacts:   c.Artifacts,
		WaitTimeout: c.WaitTimeout,
	}
}

// ResultSink receives finished flow results, e.g. a database or a queue.
type ResultSink interface {
	WriteResult(ctx context.Context, result *core.FlowResult) error
}

// SessionFactory opens a fresh session for one flow of a batch.
type SessionFactory interface {
	NewSession(ctx context.Context) (session.Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context) (session.Session, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context) (session.Session, error) {
	return f(ctx)
}

// Closer is implemented by sessions that hold resources.
type Closer interface {
	Close() error
}

// Runner executes batches of flows, each on its own session.
type Runner struct {
	config   RunnerConfig
	sessions SessionFactory
}

// New creates a new Runner.
func New(sessions SessionFactory, cfg RunnerConfig) *Runner {
	return &Runner{
		config:   cfg,
		sessions: sessions,
	}
}

// RunFlow executes one flow on an existing session. The session stays open.
func (r *Runner) RunFlow(ctx context.Context, f *flow.Flow, s session.Session) *core.FlowResult {
	return NewFlowRunner(f, s, r.config).Run(ctx)
}

// Run executes all flows and returns one result per flow, in input order.
// Flows run concurrently up to Parallelism. A flow whose session cannot be
// opened gets an error result; the batch itself only fails when ctx ends
// before every flow was started.
func (r *Runner) Run(ctx context.Context, flows []*flow.Flow) (*core.SuiteResult, error) {
	suite := &core.SuiteResult{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
		Flows:     make([]*core.FlowResult, len(flows)),
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.config.Parallelism > 0 {
		g.SetLimit(r.config.Parallelism)
	} else {
		g.SetLimit(1)
	}

	var sinkMu sync.Mutex
	for i := range flows {
		if gctx.Err() != nil {
			break
		}
		idx := i
		g.Go(func() error {
			result := r.executeFlow(gctx, flows[idx], idx, len(flows))
			suite.Flows[idx] = result

			sinkMu.Lock()
			defer sinkMu.Unlock()
			r.publish(gctx, result)
			return nil
		})
	}

	err := g.Wait()
	suite.Duration = time.Since(suite.StartTime)

	for i, res := range suite.Flows {
		if res == nil {
			suite.Flows[i] = cancelledResult(flows[i], ctx.Err())
		}
	}
	suite.ComputeSummary()

	if err == nil {
		err = ctx.Err()
	}
	return suite, err
}

func (r *Runner) executeFlow(ctx context.Context, f *flow.Flow, flowIdx, totalFlows int) *core.FlowResult {
	s, err := r.sessions.NewSession(ctx)
	if err != nil {
		logger.Error("flow %s: opening session: %v", f.DisplayName(), err)
		return sessionFailure(f, err)
	}
	if c, ok := s.(Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("flow %s: closing session: %v", f.DisplayName(), err)
			}
		}()
	}

	fr := NewFlowRunner(f, s, r.config)
	fr.flowIdx = flowIdx
	fr.totalFlows = totalFlows
	return fr.Run(ctx)
}

func (r *Runner) publish(ctx context.Context, result *core.FlowResult) {
	for _, sink := range r.config.Sinks {
		if err := sink.WriteResult(ctx, result); err != nil {
			logger.Error("flow %d: result sink %T: %v", result.FlowIndex, sink, err)
		}
	}
}

func sessionFailure(f *flow.Flow, err error) *core.FlowResult {
	now := time.Now()
	failure := fmt.Errorf("opening session: %w", err)
	return &core.FlowResult{
		RunID:      uuid.NewString(),
		FlowIndex:  f.Index(),
		Name:       f.Config.Name,
		SourcePath: f.SourcePath,
		Tags:       f.Config.Tags,
		Steps:      []core.StepRecord{},
		StartTime:  now,
		EndTime:    now,
		Status:     core.StatusError,
		Error:      failure.Error(),
		Failure:    failure,
	}
}

func cancelledResult(f *flow.Flow, cause error) *core.FlowResult {
	if cause == nil {
		cause = context.Canceled
	}
	res := sessionFailure(f, cause)
	res.Failure = core.ErrCancelled.WithCause(cause)
	res.Error = res.Failure.Error()
	return res
}
