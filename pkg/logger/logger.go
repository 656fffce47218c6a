package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns the JSON logger for a binary. Every line carries service and env.
func New(service, appEnv string) *slog.Logger {
	return NewWithWriter(os.Stdout, service, appEnv)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, service, appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" || appEnv == "" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	l := slog.New(h)
	if service != "" {
		l = l.With("service", service)
	}
	if appEnv != "" {
		l = l.With("env", appEnv)
	}
	return l
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
