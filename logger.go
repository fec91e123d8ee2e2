package stampline

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
// Applications can provide their own implementation or use the default slog logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// withFields returns a Logger that prepends fields to every call.
// *slog.Logger is extended with With so its handler sees proper attributes.
func withFields(l Logger, fields ...any) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With(fields...)
	}
	return &fieldLogger{next: l, fields: fields}
}

type fieldLogger struct {
	next   Logger
	fields []any
}

func (l *fieldLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.fields)+len(args))
	out = append(out, l.fields...)
	return append(out, args...)
}

func (l *fieldLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.merge(args)...) }
func (l *fieldLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.merge(args)...) }
func (l *fieldLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.merge(args)...) }
func (l *fieldLogger) Error(msg string, args ...any) { l.next.Error(msg, l.merge(args)...) }
