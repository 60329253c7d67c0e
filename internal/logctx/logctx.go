package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey     contextKey = "logger"
	transferIDKey contextKey = "transfer_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithTransfer stores the transfer id in ctx and attaches a child logger
// carrying the transfer's id and url.
func WithTransfer(ctx context.Context, id, url string) context.Context {
	ctx = context.WithValue(ctx, transferIDKey, id)

	return WithLogger(ctx, LoggerFromContext(ctx).With("url", url))
}

// TransferID returns the transfer id stored by WithTransfer, if any.
func TransferID(ctx context.Context) string {
	id, _ := ctx.Value(transferIDKey).(string)

	return id
}
