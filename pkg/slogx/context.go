package slogx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithContext attaches a logger to ctx. Handlers and services pull it
// back out with FromContext so request attributes follow the call down
// the stack.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or the process default
// when the request never passed through the logging middleware.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithRequestID derives a logger tagged with the request ID and stores
// it back into ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return WithContext(ctx, FromContext(ctx).With("req_id", id))
}
