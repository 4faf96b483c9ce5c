package log

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	t.Run("Default", func(t *testing.T) {
		l := Ctx(ctx)
		require.NotNil(t, l, "Ctx returned nil instead of default logger")
		assert.Equal(t, defaultLogger, l, "Ctx should return defaultLogger")
	})

	t.Run("WithCustomLogger", func(t *testing.T) {
		customLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		require.NotEqual(t, defaultLogger, customLogger)

		ctxWithLogger := With(ctx, customLogger)
		l := Ctx(ctxWithLogger)
		require.NotNil(t, l, "Ctx returned nil, expected custom logger")
		assert.Equal(t, customLogger, l, "Ctx should return customLogger")
	})
}

func TestSetDefaultLogLevel(t *testing.T) {
	defer SetDefaultLogLevel(slog.LevelInfo)

	SetDefaultLogLevel(slog.LevelDebug)
	assert.True(t, defaultLogger.Enabled(context.Background(), slog.LevelDebug))

	SetDefaultLogLevel(slog.LevelWarn)
	assert.False(t, defaultLogger.Enabled(context.Background(), slog.LevelInfo))

	// the level set here is the one Ctx callers observe
	assert.False(t, Ctx(context.Background()).Enabled(context.Background(), slog.LevelInfo))
}

func TestUseConsoleHandler(t *testing.T) {
	original := defaultLogger
	defer func() {
		defaultLogger = original
		slog.SetDefault(original)
	}()

	UseConsoleHandler()
	assert.NotEqual(t, original, defaultLogger)
	// Ctx, Default and slog's default all hand out the switched logger
	assert.Equal(t, defaultLogger, Ctx(context.Background()))
	assert.Equal(t, defaultLogger, Default())
	assert.Equal(t, defaultLogger, slog.Default())

	// the console handler still honors the shared level
	defer SetDefaultLogLevel(slog.LevelInfo)
	SetDefaultLogLevel(slog.LevelWarn)
	assert.False(t, Ctx(context.Background()).Enabled(context.Background(), slog.LevelInfo))
}
