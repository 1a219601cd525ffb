package types

// Logger is the structured, leveled logging interface consumed by every
// sqsrun component. Components enrich the logger they are given with
// identifying fields (for example "component" or "queue_url") via
// WithField before use.
//
// The logging package provides the default slog-backed implementation;
// any logger matching this shape can be substituted.
type Logger interface {
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Warn(msg string)
	Warnf(format string, args ...any)
	Error(msg string)
	Errorf(format string, args ...any)
	Fatal(msg string)
	Fatalf(format string, args ...any)
}
