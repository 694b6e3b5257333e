package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New builds the process-wide structured logger. JSON to stdout; debug
// level in local and dev environments, info everywhere else.
func New(env string) *slog.Logger {
	level := slog.LevelInfo
	switch env {
	case "local", "dev":
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "callsignal")
}

// ShutdownFlush drains buffered log output before exit. The JSON handler
// writes synchronously, so this is a no-op until a buffered handler is
// swapped in; main calls it unconditionally during shutdown.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
