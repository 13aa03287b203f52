// Package logger provides the structured, contextual logger used across
// Heimdall. It wraps logrus behind a small With/Debug/Info/Warn/Error
// surface so call sites read the same way regardless of which component
// is logging.
package logger

import (
	"github.com/sirupsen/logrus"
)

// base is the package-wide logrus instance behind every Entry. Components
// call logger.With(...) to attach contextual fields before emitting a
// message; SetLevel below adjusts its verbosity.
var base = logrus.New()

// SetLevel adjusts the verbosity of the root logger. Accepts the same level
// range as logrus (0=Panic .. 6=Trace).
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Entry is a logger bound to a set of contextual fields.
type Entry struct {
	entry *logrus.Entry
}

// With returns a new Entry carrying the given key/value pairs in addition to
// any the receiver already carries. Args are interpreted as alternating
// key, value, key, value, ... like slog's variadic convention.
func With(args ...interface{}) *Entry {
	return (&Entry{entry: logrus.NewEntry(base)}).With(args...)
}

// With returns a copy of e with additional fields attached.
func (e *Entry) With(args ...interface{}) *Entry {
	if e == nil {
		e = &Entry{entry: logrus.NewEntry(base)}
	}
	fields := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return &Entry{entry: e.entry.WithFields(fields)}
}

func (e *Entry) Debug(msg string, args ...interface{}) { e.With(args...).entry.Debug(msg) }
func (e *Entry) Info(msg string, args ...interface{})  { e.With(args...).entry.Info(msg) }
func (e *Entry) Warn(msg string, args ...interface{})  { e.With(args...).entry.Warn(msg) }
func (e *Entry) Error(msg string, args ...interface{}) { e.With(args...).entry.Error(msg) }

// Debug logs at debug level on the root logger with no prior context.
func Debug(msg string, args ...interface{}) { With().Debug(msg, args...) }

// Info logs at info level on the root logger with no prior context.
func Info(msg string, args ...interface{}) { With().Info(msg, args...) }

// Warn logs at warn level on the root logger with no prior context.
func Warn(msg string, args ...interface{}) { With().Warn(msg, args...) }

// Error logs at error level on the root logger with no prior context.
func Error(msg string, args ...interface{}) { With().Error(msg, args...) }
