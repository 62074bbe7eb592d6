package utils

import (
	"go.uber.org/zap"
)

// Logger is a named component logger with a key/value API.
// Output goes through the process-wide zap logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger named after a component, e.g. "usage-worker".
func NewLogger(name string) *Logger {
	return NewLoggerFrom(zap.L(), name)
}

// NewLoggerFrom derives a named logger from base.
func NewLoggerFrom(base *zap.Logger, name string) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{sugar: base.Named(name).Sugar()}
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.sugar.Infow(msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.sugar.Errorw(msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.sugar.Warnw(msg, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.sugar.Debugw(msg, keyvals...)
}

