package logctx

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const loggerKey contextKey = "logger"

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

// WithTransfer returns a context whose logger carries the transfer identifiers.
func WithTransfer(ctx context.Context, transferID, trackingID string) context.Context {
	return WithLogger(ctx, LoggerFromContext(ctx).With("transfer_id", transferID, "tracking_id", trackingID))
}

// New builds the process logger: JSON records with trace ids, written to
// stdout and, when logFile is set, to a size-rotated file as well.
func New(level slog.Leveler, logFile string) *slog.Logger {
	var w io.Writer = os.Stdout

	if logFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			Compress:   true,
		})
	}

	return slog.New(NewTraceHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}
