package aifetchly

import (
	"context"
	"io"
	"log/slog"
)

type ctxLoggerKey struct{}

var defaultLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func ctxWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// LoggerFromContext returns the logger bound to the context by the stream
// processor, or a discard logger when none is set.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return defaultLogger
}
