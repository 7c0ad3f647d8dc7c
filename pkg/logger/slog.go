package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level parses LOG_LEVEL style names. Unknown values map to Info.
func Level(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlog builds a structured logger for the server and queue worker.
// format is "json" (default) or "text".
func NewSlog(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     Level(level),
		AddSource: Level(level) == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupFromEnv configures the default slog logger from LOG_LEVEL and
// LOG_FORMAT and returns it.
func SetupFromEnv() *slog.Logger {
	l := NewSlog(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	slog.SetDefault(l)
	return l
}

type ctxKey string

const ctxLogger ctxKey = "logger"

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogger, l)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithRunID tags l with a flow run id.
func WithRunID(l *slog.Logger, runID string) *slog.Logger {
	return l.With("run_id", runID)
}
