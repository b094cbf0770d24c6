// Package log configures the process-wide slog logger used by the
// automation binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Level parses a level name, tolerating case and the "warning" alias.
// Unknown names fall back to info.
func Level(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text logger stamped with the service name so log
// lines from co-located binaries stay distinguishable.
func NewLogger(service, logLevel string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: Level(logLevel),
	})

	return slog.New(handler).With("service", service)
}

// Setup installs the service logger as the process default.
func Setup(service, logLevel string) {
	slog.SetDefault(NewLogger(service, logLevel))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
