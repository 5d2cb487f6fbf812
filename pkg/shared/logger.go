package shared

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates a structured JSON logger tagged with the service name.
// logLevel can be "debug", "info", "warn", or "error"; anything else falls
// back to info.
func NewLogger(serviceName, logLevel string) *slog.Logger {
	return NewLoggerTo(os.Stdout, serviceName, logLevel)
}

// NewLoggerTo is NewLogger with an explicit output. Worker processes log to
// stderr because their stdout carries the lifecycle event channel back to
// the primary.
func NewLoggerTo(out io.Writer, serviceName, logLevel string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler).With("service", serviceName)
}
