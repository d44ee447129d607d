// Package log defines the public logging interface used across statesync packages.
package log

import (
	"context"
	"log/slog"
)

// Logger defines the public interface for logging operations within statesync.
// Routers, clients, transports and sinks all accept this interface so callers
// can plug in their own implementation.
type Logger interface {
	// Debugf logs a formatted message at the DEBUG level.
	Debugf(format string, args ...interface{})
	// Infof logs a formatted message at the INFO level.
	Infof(format string, args ...interface{})
	// Warnf logs a formatted message at the WARN level.
	Warnf(format string, args ...interface{})
	// Errorf logs a formatted message at the ERROR level. Implementations
	// should check if the last arg is an error and log it structurally.
	Errorf(format string, args ...interface{})

	// Log logs a message at the specified slog.Level with additional key-value attributes.
	Log(level slog.Level, msg string, args ...interface{})
	// LogCtx logs a message at the specified slog.Level, including trace
	// information carried by ctx if the implementation supports it.
	LogCtx(ctx context.Context, level slog.Level, msg string, args ...interface{})

	// With returns a new Logger instance with the specified attributes added
	// to all subsequent log entries.
	With(args ...interface{}) Logger
	// IsEnabled checks if the logger is configured to output logs at the given level.
	IsEnabled(level slog.Level) bool
}
