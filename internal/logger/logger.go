// Package logger provides a small structured-logging facade so packages
// don't depend directly on log/slog.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging surface every package in this repo depends on.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// SlogLogger adapts log/slog to Logger.
type SlogLogger struct {
	*slog.Logger
}

// New creates a Logger backed by slog's JSON handler at the given level
// ("debug", "info", "warn", "error"; anything else falls back to "info").
func New(level string) Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is like New but writes to w instead of stdout.
func NewWithWriter(w io.Writer, level string) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &SlogLogger{slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debugf(format string, v ...interface{}) { l.Debug(fmt.Sprintf(format, v...)) }
func (l *SlogLogger) Infof(format string, v ...interface{})  { l.Info(fmt.Sprintf(format, v...)) }
func (l *SlogLogger) Warnf(format string, v ...interface{})  { l.Warn(fmt.Sprintf(format, v...)) }
func (l *SlogLogger) Errorf(format string, v ...interface{}) { l.Error(fmt.Sprintf(format, v...)) }

// discardLogger is a no-op Logger, handy for tests that don't assert on logs.
type discardLogger struct{}

func (discardLogger) Debugf(string, ...interface{}) {}
func (discardLogger) Infof(string, ...interface{})  {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Errorf(string, ...interface{}) {}

// Discard returns a Logger that drops everything.
func Discard() Logger { return discardLogger{} }
