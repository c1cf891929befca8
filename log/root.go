// Package log is a small structured logger built on top of log/slog.
//
// It mirrors the shape of go-ethereum's log package (a package-level default
// Logger, a glog-style per-module verbosity filter, and pluggable terminal /
// logfmt / JSON handlers) without reproducing its byte-exact terminal
// formatting, which is incidental to this module's domain.
package log

import (
	"os"
	"sync/atomic"
)

var defaultLogger atomic.Value // Logger

func init() {
	defaultLogger.Store(NewLogger(NewTerminalHandler(os.Stderr, false)))
}

// Root returns the current default logger.
func Root() Logger {
	return defaultLogger.Load().(Logger)
}

// SetDefault sets l as the default logger used by the package-level
// Trace/Debug/Info/Warn/Error/Crit functions.
func SetDefault(l Logger) {
	defaultLogger.Store(l)
}

func Trace(msg string, ctx ...any) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { Root().Crit(msg, ctx...); os.Exit(1) }

// New creates a new logger with the default terminal handler, writing to
// stderr, that includes the given key/value pairs in every record.
func New(ctx ...any) Logger {
	return NewLogger(NewTerminalHandler(os.Stderr, false)).With(ctx...)
}
