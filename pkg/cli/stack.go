package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/uxflow/pkg/artifact"
	"github.com/devicelab-dev/uxflow/pkg/config"
	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/driver/browser"
	"github.com/devicelab-dev/uxflow/pkg/driver/dom"
	"github.com/devicelab-dev/uxflow/pkg/executor"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/mq"
	"github.com/devicelab-dev/uxflow/pkg/server"
	"github.com/devicelab-dev/uxflow/pkg/session"
	"github.com/devicelab-dev/uxflow/pkg/sheet"
	"github.com/devicelab-dev/uxflow/pkg/store"
)

// stack holds the long-lived dependencies a command runs flows with.
type stack struct {
	sessions  executor.SessionFactory
	sinks     []executor.ResultSink
	store     server.Store // First queryable sink, nil if none
	conn      *mq.Connection
	publisher *mq.Publisher
	closers   []func() error
}

// openStack starts the driver and opens every configured sink. The queue
// connection is opened when withQueue is set or results are published.
func openStack(ctx context.Context, cfg *config.Config, log *slog.Logger, withQueue bool) (st *stack, err error) {
	st = &stack{}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	sessions, closeSessions, err := newSessionFactory(ctx, cfg)
	if err != nil {
		return st, err
	}
	st.sessions = sessions
	st.closers = append(st.closers, closeSessions)

	if path := cfg.Sinks.SQLitePath; path != "" {
		db, err := store.OpenSQLite(path)
		if err != nil {
			return st, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		st.addSink(db, db.Close)
		st.store = db
	}
	if dsn := cfg.Sinks.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			return st, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		st.addSink(pg, pg.Close)
		if st.store == nil {
			st.store = pg
		}
	}
	if path := cfg.Sinks.XLSXPath; path != "" {
		w, err := sheet.Open(path)
		if err != nil {
			return st, err
		}
		st.addSink(w, w.Close)
	}

	if withQueue || cfg.Sinks.Queue {
		conn, err := mq.NewConnection(amqpURL(cfg), log)
		if err != nil {
			return st, fmt.Errorf("failed to connect to message queue: %w", err)
		}
		st.conn = conn
		st.closers = append(st.closers, conn.Close)
		if err := mq.SetupTopology(ctx, conn); err != nil {
			return st, fmt.Errorf("failed to set up queue topology: %w", err)
		}
		st.publisher = mq.NewPublisher(conn, log)
		if cfg.Sinks.Queue {
			st.sinks = append(st.sinks, mq.NewResultSink(st.publisher))
		}
	}
	return st, nil
}

func (st *stack) addSink(sink executor.ResultSink, closeFn func() error) {
	st.sinks = append(st.sinks, sink)
	st.closers = append(st.closers, closeFn)
}

// Close releases everything in reverse order of opening.
func (st *stack) Close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	st.closers = nil
	return errors.Join(errs...)
}

func amqpURL(cfg *config.Config) string {
	if cfg.AMQP.URL != "" {
		return cfg.AMQP.URL
	}
	return mq.DefaultURL()
}

// newSessionFactory returns the factory that opens one session per flow
// for the configured driver, plus the function releasing the driver.
func newSessionFactory(ctx context.Context, cfg *config.Config) (executor.SessionFactory, func() error, error) {
	switch cfg.DriverName() {
	case config.DriverStatic:
		opts := dom.Options{
			UserAgent:    cfg.Browser.UserAgent,
			DisableCache: cfg.Browser.DisableCache,
		}
		factory := executor.SessionFactoryFunc(func(ctx context.Context) (session.Session, error) {
			return dom.New(opts), nil
		})
		return factory, func() error { return nil }, nil

	case config.DriverBrowser:
		b, err := browser.Launch(ctx, browser.Options{
			ControlURL:     cfg.Browser.ControlURL,
			Bin:            cfg.Browser.Bin,
			Headless:       cfg.Browser.IsHeadless(),
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.Viewport.Width,
			ViewportHeight: cfg.Browser.Viewport.Height,
			DisableCache:   cfg.Browser.DisableCache,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start browser: %w", err)
		}
		return b, b.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// runnerConfig maps the workspace config onto executor settings.
func runnerConfig(cfg *config.Config, sinks []executor.ResultSink) executor.RunnerConfig {
	return executor.RunnerConfig{
		StepDelay:   cfg.StepDelay(),
		WaitTimeout: cfg.Timeout(),
		Parallelism: cfg.Parallelism,
		Artifacts:   core.NullArtifactSink{},
		Sinks:       sinks,
	}
}

// batchRunner runs every batch with its own artifact directory below
// root, so concurrent jobs from the server or the queue never share
// flow-N directories.
type batchRunner struct {
	root     string
	sessions executor.SessionFactory
	config   executor.RunnerConfig
}

// Run implements server.Runner and mq.Runner.
func (b *batchRunner) Run(ctx context.Context, flows []*flow.Flow) (*core.SuiteResult, error) {
	dir := filepath.Join(b.root, batchDirName(time.Now()))
	sink, err := artifact.NewFileSink(dir)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("running batch", "flows", len(flows), "artifacts", dir)

	cfg := b.config
	cfg.Artifacts = sink
	return executor.New(b.sessions, cfg).Run(ctx, flows)
}

func batchDirName(t time.Time) string {
	return t.Format("2006-01-02_15-04-05") + "_" + uuid.NewString()[:8]
}
