package log

import (
	"context"
	"log/slog"
)

// Logger writes structured, leveled log records. The variadic ctx arguments
// are alternating key/value pairs, same convention as slog.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)

	// With returns a new Logger that always includes the given key/value
	// pairs in every record it emits.
	With(ctx ...any) Logger
	// Handler returns the underlying slog.Handler, so glog-style wrappers
	// (NewGlogHandler) can be composed on top of it.
	Handler() slog.Handler
}

type logger struct {
	inner *slog.Logger
}

// NewLogger wraps a slog.Handler as a Logger.
func NewLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) write(level slog.Level, msg string, ctx []any) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	l.inner.Log(context.Background(), level, msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.write(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.write(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.write(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.write(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.write(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...any)  { l.write(LevelCrit, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

func (l *logger) Handler() slog.Handler {
	return l.inner.Handler()
}
