// Package server exposes flow runs over HTTP.
//
//	GET  /healthz            liveness
//	GET  /metrics            Prometheus metrics
//	POST /v1/runs            run inline flows (or enqueue them with "async")
//	GET  /v1/runs            recent runs from the result store
//	GET  /v1/runs/{runID}    one stored run
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/store"
)

const (
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// Runner executes a batch of flows; *executor.Runner implements it.
type Runner interface {
	Run(ctx context.Context, flows []*flow.Flow) (*core.SuiteResult, error)
}

// Store reads stored results; *store.SQLite and *store.Postgres implement it.
type Store interface {
	Get(ctx context.Context, runID string) (*core.FlowResult, error)
	List(ctx context.Context, limit int) ([]store.Summary, error)
}

// JobQueue hands flows to queue workers; *mq.Publisher implements it.
type JobQueue interface {
	PublishFlowJob(ctx context.Context, docs []flow.Document) (string, error)
}

// Config wires a Server. Runner is required; the rest is optional.
type Config struct {
	Addr         string
	Runner       Runner
	Store        Store
	Queue        JobQueue
	Metrics      http.Handler
	Logger       *slog.Logger
	MaxBodyBytes int64
}

// Server is the HTTP trigger for flow runs.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
}

// RunRequest is the body of POST /v1/runs.
type RunRequest struct {
	Flows []flow.Document `json:"flows"`
	Async bool            `json:"async,omitempty"`
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("server: runner is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{cfg: cfg, logger: log.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{runID}", s.handleGetRun)
	})

	s.router = r
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	flows, err := flow.ParseDocuments(req.Flows)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if req.Async {
		if s.cfg.Queue == nil {
			respondError(w, http.StatusNotImplemented, errors.New("no job queue configured"))
			return
		}
		jobID, err := s.cfg.Queue.PublishFlowJob(r.Context(), req.Flows)
		if err != nil {
			logger.FromContext(r.Context()).Error("enqueue job", "error", err)
			respondError(w, http.StatusServiceUnavailable, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
		return
	}

	suite, err := s.cfg.Runner.Run(r.Context(), flows)
	if err != nil && suite == nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err != nil {
		logger.WithRunID(logger.FromContext(r.Context()), suite.RunID).Warn("run interrupted", "error", err)
	}
	respondJSON(w, http.StatusOK, suite)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		respondError(w, http.StatusNotImplemented, errors.New("no result store configured"))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	runs, err := s.cfg.Store.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.Summary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		respondError(w, http.StatusNotImplemented, errors.New("no result store configured"))
		return
	}

	res, err := s.cfg.Store.Get(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case err != nil:
		respondError(w, http.StatusInternalServerError, err)
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		log := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(logger.WithLogger(r.Context(), log)))
		log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, struct {
		Error   string `json:"error"`
		Status  int    `json:"status"`
		Message string `json:"message"`
	}{
		Error:   http.StatusText(status),
		Status:  status,
		Message: err.Error(),
	})
}
