package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger with the levelled key-value interface
// used across the service.
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger creates a production console Logger.
func NewLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		base = zap.NewNop()
	}
	return &Logger{SugaredLogger: base.Sugar()}
}

// NewNop returns a logger that discards everything; used in tests.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// Info logs an informational message with key-value pairs.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.Infow(msg, args...)
}

// Warn logs a warning message with key-value pairs.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.Warnw(msg, args...)
}

// Error logs an error message with key-value pairs.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.Errorw(msg, args...)
}

// Debug logs a debug message with key-value pairs.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.Debugw(msg, args...)
}
