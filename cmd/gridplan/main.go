package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jameshartig/gridplan/pkg/config"
	"github.com/jameshartig/gridplan/pkg/executor"
	"github.com/jameshartig/gridplan/pkg/hass"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/schedule"
	"github.com/jameshartig/gridplan/pkg/server"
	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"github.com/robfig/cron/v3"
)

func main() {
	// .env is optional and only used for local development
	_ = godotenv.Load()

	// init packages
	client := hass.Configured()
	db := storage.Configured()
	cfg := config.NewManager(db)
	store := schedule.NewStore(db)
	exec := executor.New(client, store, db, cfg)
	srv := server.Configured(client, store, db, cfg, exec)

	logFormat := lflag.String("log-format", "json", "Log output format (json or console)")

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	// log.Ctx hands out the package logger, so the level and handler have to
	// be installed there rather than only on slog's default
	log.SetDefaultLogLevel(level)
	switch *logFormat {
	case "console":
		log.UseConsoleHandler()
	case "json":
		slog.SetDefault(log.Default())
	default:
		panic(fmt.Errorf("unknown log format: %s", *logFormat))
	}
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	if err := client.Init(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to mqtt", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close mqtt client", "error", err)
		}
	}()

	if err := cfg.Load(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load settings", "error", err)
		os.Exit(1)
	}
	if err := store.Load(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load schedule", "error", err)
		os.Exit(1)
	}
	if err := store.Cleanup(ctx, time.Now(), cfg.Settings().DaysToKeep); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to clean up old schedule entries", "error", err)
	}

	c := cron.New()
	mustAdd := func(spec string, fn func()) {
		if _, err := c.AddFunc(spec, fn); err != nil {
			panic(fmt.Errorf("failed to schedule %q: %w", spec, err))
		}
	}
	// the schedule is evaluated once a minute
	mustAdd("* * * * *", func() {
		exec.Tick(ctx, time.Now())
	})
	// auto-optimization runs a few minutes past the hour so price sensors
	// that update on the hour have settled
	mustAdd("5 * * * *", func() {
		maybeOptimize(ctx, cfg, exec)
	})
	mustAdd("30 0 * * *", func() {
		if err := store.Cleanup(ctx, time.Now(), cfg.Settings().DaysToKeep); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to clean up old schedule entries", "error", err)
		}
	})
	c.Start()
	defer c.Stop()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}

// maybeOptimize runs a scheduled optimization when the configured interval
// says this hour is due.
func maybeOptimize(ctx context.Context, cfg *config.Manager, exec *executor.Executor) {
	settings := cfg.Settings()
	if !settings.AutoOptimize {
		return
	}

	now := time.Now()
	hour := now.Hour()
	due := false
	switch settings.OptimizeInterval {
	case types.OptimizeIntervalHourly:
		due = true
	case types.OptimizeIntervalEvery6H:
		due = hour%6 == 0
	case types.OptimizeIntervalDaily:
		// day-ahead prices are typically published in the early afternoon
		due = hour == 14
	}
	if !due {
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "running scheduled optimization",
		slog.String("interval", settings.OptimizeInterval))
	if _, err := exec.Optimize(ctx, now, 24, true); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "scheduled optimization failed", "error", err)
	}
}
