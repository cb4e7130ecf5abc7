package slogx

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/tourbook/pkg/reqid"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request-scoped logger, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithRequestID stores id in ctx and tags the contextual logger with it.
func WithRequestID(ctx context.Context, id reqid.ID) context.Context {
	ctx = reqid.WithContext(ctx, id)
	return WithContext(ctx, FromContext(ctx).With("req_id", id.String()))
}
