// Package logger provides module-scoped structured logging on top of log/slog.
//
// Packages obtain their logger once and reuse it:
//
//	log := logger.Global().Module("session")
//	log.Info("session opened", logger.SessionID(id))
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel represents logging severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field represents a structured logging field
type Field struct {
	Key   string
	Value any
}

// internKey interns field keys; the same handful of keys are logged constantly
func internKey(key string) string {
	return unique.Make(key).Value()
}

var (
	errorKey   = internKey("error")
	moduleKey  = internKey("module")
	traceIDKey = internKey("trace_id")

	sessionIDKey = internKey("session_id")
	aifIDKey     = internKey("aif_id")
	deviceIDKey  = internKey("device_id")
)

// Logger is the logging interface used across the codebase
type Logger interface {
	// Module returns a child logger scoped to a sub-module ("session.connect")
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every entry
	With(fields ...Field) Logger
	// WithContext picks up the trace id stored by WithTraceID
	WithContext(ctx context.Context) Logger

	Log(level LogLevel, msg string, fields ...Field)

	Flush() error
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint32 creates a uint32 field; ids in this codebase are uint32
func Uint32(key string, value uint32) Field {
	return Field{Key: internKey(key), Value: int64(value)}
}

// SessionID tags an entry with a session id
func SessionID(id uint32) Field {
	return Field{Key: sessionIDKey, Value: int64(id)}
}

// AIFID tags an entry with the device id of an audio interface
func AIFID(id uint32) Field {
	return Field{Key: aifIDKey, Value: int64(id)}
}

// DeviceID tags an entry with a device id
func DeviceID(id uint32) Field {
	return Field{Key: deviceIDKey, Value: int64(id)}
}

// Uint64 creates a uint64 field
func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field under the "error" key
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field with any value
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}
