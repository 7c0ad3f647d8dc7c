package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/logger"
)

const defaultPrefetch = 1

// Runner executes a batch of flows; *executor.Runner implements it.
type Runner interface {
	Run(ctx context.Context, flows []*flow.Flow) (*core.SuiteResult, error)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Conn      *Connection
	Publisher *Publisher
	Runner    Runner
	Prefetch  int // Jobs run concurrently by this worker (default 1)
	Logger    *slog.Logger
}

// Worker consumes flow.requested jobs, runs them and publishes one
// flow.completed message per flow followed by job.completed.
type Worker struct {
	conn     *Connection
	pub      jsonPublisher
	runner   Runner
	prefetch int
	logger   *slog.Logger

	consumer   *Consumer
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	w := &Worker{
		conn:     cfg.Conn,
		runner:   cfg.Runner,
		prefetch: prefetch,
		logger:   log.With("component", "worker"),
	}
	if cfg.Publisher != nil {
		w.pub = cfg.Publisher
	}
	return w
}

// Start begins consuming the job queue in the background.
func (w *Worker) Start(ctx context.Context) error {
	if w.conn == nil || w.pub == nil || w.runner == nil {
		return fmt.Errorf("worker: connection, publisher and runner are required")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.consumer = NewConsumer(w.conn, w.logger, ConsumerConfig{
		Queue:    QueueFlowJobs,
		Handler:  w.Handle,
		Prefetch: w.prefetch,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("job consumer stopped", "error", err)
		}
	}()

	w.logger.Info("worker started", "queue", QueueFlowJobs, "prefetch", w.prefetch)
	return nil
}

// Stop cancels consumption and waits for the consumer to return.
func (w *Worker) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// Handle runs one job message. Malformed jobs are rejected permanently;
// a cancelled run or a failed publish is retried.
func (w *Worker) Handle(ctx context.Context, d *Delivery) error {
	if d.Message.Type != MessageTypeFlowRequested {
		return Permanent(fmt.Errorf("unexpected message type %q", d.Message.Type))
	}

	job, err := ParsePayload[FlowJobPayload](&d.Message)
	if err != nil {
		return Permanent(err)
	}
	if job.JobID == "" {
		job.JobID = d.Message.ID
	}
	log := w.logger.With("job_id", job.JobID)

	flows, err := flow.ParseDocuments(job.Flows)
	if err != nil {
		log.Warn("rejecting job", "error", err)
		if perr := w.pub.PublishJSON(ctx, ExchangeFlows, RoutingKeyResult, MessageTypeJobRejected,
			JobRejectedPayload{JobID: job.JobID, Error: err.Error()}); perr != nil {
			return perr
		}
		return Permanent(err)
	}

	log.Info("running job", "flows", len(flows))
	suite, err := w.runner.Run(logger.WithLogger(ctx, log), flows)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.JobID, err)
	}

	for _, res := range suite.Flows {
		payload := FlowCompletedPayload{JobID: job.JobID, Result: res}
		if err := w.pub.PublishJSON(ctx, ExchangeFlows, RoutingKeyResult, MessageTypeFlowCompleted, payload); err != nil {
			return err
		}
	}

	summary := JobCompletedPayload{
		JobID:       job.JobID,
		RunID:       suite.RunID,
		TotalFlows:  suite.TotalFlows,
		PassedFlows: suite.PassedFlows,
		FailedFlows: suite.FailedFlows,
		DurationMs:  suite.Duration.Milliseconds(),
	}
	if err := w.pub.PublishJSON(ctx, ExchangeFlows, RoutingKeyResult, MessageTypeJobCompleted, summary); err != nil {
		return err
	}

	log.Info("job finished", "passed", suite.PassedFlows, "failed", suite.FailedFlows)
	return nil
}
