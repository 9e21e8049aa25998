// Command webhooks runs the webhook dispatcher: it accepts channel events over HTTP, turns
// them into signed jobs on the configured queue and delivers those jobs to app webhooks.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pushgate/webhooks/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	closeLog := setupLogging(cfg.LogLevel, cfg.LogFile)

	code := run(cfg)

	if err := closeLog(); err != nil {
		slog.Error("Failed to close log file", "error", err)
	}

	os.Exit(code)
}

func run(cfg *config.Config) int {
	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)

		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)
	if runErr != nil {
		slog.Error("Component failed", "error", runErr)
	}

	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown incomplete", "error", err)

		return 1
	}

	slog.Info("Server exited")

	if runErr != nil {
		return 1
	}

	return 0
}

// setupLogging installs a text handler at level. With file set, logs go to a rotating file.
// The returned func closes the file.
func setupLogging(level, file string) func() error {
	var logLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var (
		out     io.Writer = os.Stdout
		closeFn           = func() error { return nil }
	)

	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = rotating
		closeFn = rotating.Close
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	return closeFn
}
