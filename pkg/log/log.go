package log

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	}))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger from the context. If no logger is found, it returns the default logger.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}

// Default returns the logger Ctx falls back to when the context carries none.
func Default() *slog.Logger {
	return defaultLogger
}

// UseConsoleHandler switches the default logger to a human-readable colored
// handler for local development. The default is JSON.
func UseConsoleHandler() {
	defaultLogger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      &defaultLogLevel,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(defaultLogger)
}
