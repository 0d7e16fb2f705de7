// Package logging provides the structured logger used across the service.
package logging

import (
	"log/slog"
	"os"
)

// Logger is a structured key-value logger writing to stdout.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger at info level.
func NewLogger() *Logger {
	return NewLoggerWithLevel(slog.LevelInfo)
}

// NewLoggerWithLevel creates a new Logger with an explicit minimum level.
func NewLoggerWithLevel(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler)}
}

// With returns a Logger carrying additional persistent attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
