package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/uxflow/pkg/config"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/metrics"
	"github.com/devicelab-dev/uxflow/pkg/mq"
	"github.com/devicelab-dev/uxflow/pkg/server"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Accept flow runs over HTTP",
	Description: `Serve POST /v1/runs, GET /v1/runs, GET /v1/runs/{runID},
/healthz and /metrics.

Runs with "async": true are handed to queue workers; this needs an AMQP
URL (--amqp-url or amqp.url). Run history needs a sqlite or postgres sink.`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "HTTP listen address (default :8080)",
			EnvVars: []string{"UXFLOW_HTTP_ADDR"},
		},
	}, executionFlags...),
	Action: serve,
}

var workerCommand = &cli.Command{
	Name:  "worker",
	Usage: "Run flow jobs from the message queue",
	Flags: append([]cli.Flag{
		&cli.IntFlag{
			Name:  "prefetch",
			Usage: "Jobs run concurrently by this worker (default 1)",
		},
		&cli.StringFlag{
			Name:  "health-addr",
			Usage: "Serve /healthz and /metrics on this address (empty = off)",
			Value: ":9091",
		},
	}, executionFlags...),
	Action: work,
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := serviceLogger(c)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStack(ctx, cfg, log, cfg.AMQP.URL != "")
	if err != nil {
		return err
	}
	defer closeStack(st, log)

	srvCfg := server.Config{
		Addr:    cfg.HTTPAddr(),
		Runner:  newBatchRunner(cfg, st, prometheus.DefaultRegisterer),
		Store:   st.store,
		Metrics: promhttp.Handler(),
		Logger:  log,
	}
	if st.publisher != nil {
		srvCfg.Queue = st.publisher
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func work(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := serviceLogger(c)
	// The worker publishes flow.completed itself.
	cfg.Sinks.Queue = false

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStack(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer closeStack(st, log)

	worker := mq.NewWorker(mq.WorkerConfig{
		Conn:      st.conn,
		Publisher: st.publisher,
		Runner:    newBatchRunner(cfg, st, prometheus.DefaultRegisterer),
		Prefetch:  cfg.AMQP.Prefetch,
		Logger:    log,
	})
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	if addr := c.String("health-addr"); addr != "" {
		go serveHealth(ctx, addr, healthHandler(st.conn), log)
	}

	<-ctx.Done()
	return nil
}

// newBatchRunner builds the runner shared by the service commands, with
// Prometheus metrics attached.
func newBatchRunner(cfg *config.Config, st *stack, reg prometheus.Registerer) *batchRunner {
	rc := runnerConfig(cfg, st.sinks)
	metrics.New(reg).Attach(&rc)
	return &batchRunner{
		root:     cfg.OutputDir(),
		sessions: st.sessions,
		config:   rc,
	}
}

// serviceLogger configures slog for a long-running command. The
// printf-style executor log goes to stderr as well.
func serviceLogger(c *cli.Context) *slog.Logger {
	level := c.String("log-level")
	if c.Bool("verbose") {
		level = "debug"
	}
	l := logger.NewSlog(os.Stderr, level, c.String("log-format"))
	slog.SetDefault(l)
	logger.InitWriter(os.Stderr)
	return l
}

func closeStack(st *stack, log *slog.Logger) {
	if err := st.Close(); err != nil {
		log.Warn("shutdown", "error", err)
	}
}

type connectionState interface {
	IsConnected() bool
}

// healthHandler serves the worker's liveness and metrics endpoints.
func healthHandler(conn connectionState) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !conn.IsConnected() {
			http.Error(w, "amqp disconnected", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return mux
}

func serveHealth(ctx context.Context, addr string, h http.Handler, log *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("health endpoint", "addr", addr, "error", err)
	}
}
