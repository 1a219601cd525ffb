// Package logging provides the default implementation of
// [github.com/quemgr/sqsrun/types.Logger], backed by log/slog with a
// tint handler for human-readable colored output. NewDiscard returns a
// logger that drops everything, for tests and for callers that wire
// their own logging.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/quemgr/sqsrun/types"
)

// Logger adapts a *slog.Logger to the types.Logger interface.
type Logger struct {
	sl   *slog.Logger
	exit func(int)
}

// New returns a Logger writing tint-formatted output to w at the given
// level. Pass os.Stderr for typical CLI use.
func New(w io.Writer, level slog.Level) types.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})

	return &Logger{sl: slog.New(handler), exit: os.Exit}
}

// NewDiscard returns a Logger that produces no output.
func NewDiscard() types.Logger {
	return &Logger{
		sl:   slog.New(slog.DiscardHandler),
		exit: func(int) {},
	}
}

func (l *Logger) WithField(key string, value any) types.Logger {
	return &Logger{sl: l.sl.With(key, value), exit: l.exit}
}

func (l *Logger) WithFields(fields map[string]any) types.Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{sl: l.sl.With(args...), exit: l.exit}
}

func (l *Logger) Debug(msg string) { l.sl.Debug(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.sl.Debug(sprintf(format, args...)) }

func (l *Logger) Info(msg string) { l.sl.Info(msg) }

func (l *Logger) Infof(format string, args ...any) { l.sl.Info(sprintf(format, args...)) }

func (l *Logger) Warn(msg string) { l.sl.Warn(msg) }

func (l *Logger) Warnf(format string, args ...any) { l.sl.Warn(sprintf(format, args...)) }

func (l *Logger) Error(msg string) { l.sl.Error(msg) }

func (l *Logger) Errorf(format string, args ...any) { l.sl.Error(sprintf(format, args...)) }

// Fatal logs at error level and terminates the process.
func (l *Logger) Fatal(msg string) {
	l.sl.Error(msg)
	l.exit(1)
}

func (l *Logger) Fatalf(format string, args ...any) {
	l.sl.Error(sprintf(format, args...))
	l.exit(1)
}

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
