package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/session"
	"github.com/devicelab-dev/uxflow/pkg/tracing"
)

// FlowRunner executes a single flow against a borrowed session.
type FlowRunner struct {
	flow       *flow.Flow
	session    session.Session
	config     RunnerConfig
	dispatcher *Dispatcher
	flowIdx    int // Position in the batch (0-based)
	totalFlows int
	state      core.RunState
	logs       *logger.Buffer
	now        func() time.Time
}

// NewFlowRunner prepares a run of f on s. The runner never closes s.
// cfg.StepDelay is used as given; zero means no pause between steps.
func NewFlowRunner(f *flow.Flow, s session.Session, cfg RunnerConfig) *FlowRunner {
	return &FlowRunner{
		flow:       f,
		session:    s,
		config:     cfg,
		dispatcher: cfg.dispatcher(),
		totalFlows: 1,
		state:      core.StatePending,
		logs:       logger.NewBuffer(),
		now:        time.Now,
	}
}

// State returns the run's lifecycle state.
func (fr *FlowRunner) State() core.RunState {
	return fr.state
}

// Logs returns the lines collected during the run.
func (fr *FlowRunner) Logs() []string {
	return fr.logs.Lines()
}

// Run executes the flow and returns its result. It never fails: step
// errors, cancellation and artifact problems all end up in the result or
// the log.
func (fr *FlowRunner) Run(ctx context.Context) *core.FlowResult {
	runID := uuid.NewString()
	index := fr.flow.Index()
	name := fr.flow.DisplayName()
	rec := newRecorder(fr.flow, runID, fr.now)

	fr.state = core.StateRunning
	if fr.config.OnFlowStart != nil {
		fr.config.OnFlowStart(fr.flowIdx, fr.totalFlows, name)
	}

	if fr.flow.Config.OutputToFile && fr.config.Artifacts != nil {
		if err := fr.config.Artifacts.WriteResult(index, []byte("{}")); err != nil {
			logger.Warn("flow %d: writing placeholder result: %v", index, err)
		}
	}

	tp := fr.startTracing(index, runID)
	ctx, flowSpan := tp.Start(ctx, "flow",
		tracing.AttrRunID.String(runID),
		tracing.AttrFlowIndex.Int(index),
		tracing.AttrFlowName.String(name))

	scope := &Scope{
		Session:   fr.session,
		FlowIndex: index,
		Context:   core.NewStepContext(),
	}

	rec.begin()
	var failure error

	for i, step := range fr.flow.Steps {
		if err := ctx.Err(); err != nil {
			failure = core.ErrCancelled.WithCause(err)
			fr.logs.Error("flow cancelled before step %d: %v", i+1, err)
			break
		}

		label := stepLabel(i, step)
		fr.logs.Step("%s", label)

		if step.Common().Skip {
			fr.logs.Info("step skipped")
			rec.record(i, step, scope.Context, true)
			_, span := tp.Start(ctx, string(step.Type()), tracing.AttrStepIndex.Int(i), tracing.AttrSkipped.Bool(true))
			tracing.End(span, nil)
			fr.stepComplete(i, step, true, 0, nil)
			continue
		}

		stepStart := fr.now()
		err := fr.executeStep(ctx, tp, scope, i, step)
		duration := fr.now().Sub(stepStart).Milliseconds()

		if err != nil {
			failure = err
			fr.logs.Error("%s failed: %v", label, err)
			fr.stepComplete(i, step, false, duration, err)
			break
		}

		rec.record(i, step, scope.Context, false)
		fr.logs.Info("\t%s: %s", stepName(step), scope.Context.Message())
		fr.stepComplete(i, step, true, duration, nil)

		// Pauses only delay the next step; cancellation is picked up by
		// the check at the top of the loop.
		_ = sleep(ctx, step.Common().SleepAfter())
		_ = sleep(ctx, fr.config.StepDelay)
	}

	result := rec.finish(failure)
	if failure != nil {
		fr.state = core.StateError
		fr.logs.Error("Flow terminated with error: %v", failure)
	} else {
		fr.state = core.StateSuccess
		fr.logs.Info("Flow complete.")
	}
	tracing.End(flowSpan, failure)

	fr.finalize(context.WithoutCancel(ctx), result, tp)

	if fr.config.OnFlowEnd != nil {
		fr.config.OnFlowEnd(name, result.Success(), result.TimelapseMs)
	}
	return result
}

// executeStep resolves the step's target and dispatches it inside a span.
func (fr *FlowRunner) executeStep(ctx context.Context, tp *tracing.Provider, scope *Scope, i int, step flow.Step) (err error) {
	ctx, span := tp.Start(ctx, string(step.Type()), tracing.AttrStepIndex.Int(i))
	defer func() { tracing.End(span, err) }()

	if ref := step.Common().Iframe; ref != nil {
		fr.logs.Info("    On %s", ref)
	}
	fr.logs.Info("    action: %s", step.Type())

	target, err := Resolve(ctx, fr.session, step)
	if err != nil {
		return err
	}
	scope.Target = target
	return fr.dispatcher.Execute(ctx, scope, step)
}

func (fr *FlowRunner) stepComplete(i int, step flow.Step, passed bool, durationMs int64, err error) {
	if fr.config.OnStepComplete == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	fr.config.OnStepComplete(i, step.Describe(), passed, durationMs, msg)
}

func (fr *FlowRunner) startTracing(index int, runID string) *tracing.Provider {
	if !fr.flow.Config.Tracing || fr.config.Artifacts == nil {
		return tracing.Noop()
	}
	w, err := fr.config.Artifacts.TraceWriter(index)
	if err != nil {
		logger.Warn("flow %d: opening trace file: %v", index, err)
		return tracing.Noop()
	}
	tp, err := tracing.NewProvider(w, tracing.AttrRunID.String(runID))
	if err != nil {
		w.Close()
		logger.Warn("flow %d: starting tracing: %v", index, err)
		return tracing.Noop()
	}
	fr.logs.Info("Start tracing.")
	return tp
}

// finalize writes the artifacts enabled by the flow's output flags.
// Problems are logged and never change the result.
func (fr *FlowRunner) finalize(ctx context.Context, result *core.FlowResult, tp *tracing.Provider) {
	cfg := fr.flow.Config
	sink := fr.config.Artifacts
	index := result.FlowIndex

	if sink != nil && cfg.OutputResultToFile {
		if data, err := json.MarshalIndent(result, "", "  "); err != nil {
			logger.Warn("flow %d: encoding result: %v", index, err)
		} else if err := sink.WriteResult(index, data); err != nil {
			logger.Warn("flow %d: writing result: %v", index, err)
		}
	}

	if sink != nil && cfg.OutputScreenshot {
		if png, err := fr.session.Screenshot(ctx); err != nil {
			logger.Warn("flow %d: final screenshot: %v", index, err)
		} else if err := sink.WriteScreenshot(index, core.FinalScreenshotFile, png); err != nil {
			logger.Warn("flow %d: writing final screenshot: %v", index, err)
		}
	}

	if sink != nil && cfg.OutputToFile {
		if html, err := fr.session.Content(ctx); err != nil {
			logger.Warn("flow %d: final page content: %v", index, err)
		} else if err := sink.WriteHTML(index, core.FinalHTMLFile, html); err != nil {
			logger.Warn("flow %d: writing final page content: %v", index, err)
		}
	}

	if err := tp.Shutdown(ctx); err != nil {
		logger.Warn("flow %d: stopping tracing: %v", index, err)
	}

	if sink != nil && cfg.OutputResultToFile {
		if err := sink.WriteLogs(fr.logs.Lines()); err != nil {
			logger.Warn("flow %d: writing logs: %v", index, err)
		}
	}
}

func stepName(step flow.Step) string {
	if log := step.Common().Log; log != "" {
		return log
	}
	return string(step.Type())
}
