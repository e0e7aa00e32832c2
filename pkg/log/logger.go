package log

import (
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("log: unknown level %q", s)
}

// Field is a typed key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// F builds a generic field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Str builds a string field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Int builds an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 builds an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Dur builds a duration field.
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Bool builds a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Err builds an error field under the conventional "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags log entries with a component name.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// Logger is the leveled, structured logging interface used across services.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger carrying the given fields on every entry.
	With(fields ...Field) Logger

	// SetLevel adjusts the minimum level; shared with children.
	SetLevel(level Level)
	Level() Level
}

// Options configures a Logger.
type Options struct {
	Level  Level
	Format string    // "text" (default) or "json"
	Writer io.Writer // defaults to os.Stderr
}

type slogLogger struct {
	s  *slog.Logger
	lv *slog.LevelVar
}

// New constructs a Logger backed by log/slog.
func New(opts Options) Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(toSlogLevel(opts.Level))
	hopts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return &slogLogger{s: slog.New(h), lv: lv}
}

// Discard returns a logger that drops all entries. Useful in tests.
func Discard() Logger {
	return New(Options{Level: ErrorLevel + 1, Writer: io.Discard})
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.s.Debug(msg, args(fields)...) }
func (l *slogLogger) Info(msg string, fields ...Field)  { l.s.Info(msg, args(fields)...) }
func (l *slogLogger) Warn(msg string, fields ...Field)  { l.s.Warn(msg, args(fields)...) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.s.Error(msg, args(fields)...) }

func (l *slogLogger) With(fields ...Field) Logger {
	return &slogLogger{s: l.s.With(args(fields)...), lv: l.lv}
}

func (l *slogLogger) SetLevel(level Level) { l.lv.Set(toSlogLevel(level)) }

func (l *slogLogger) Level() Level { return fromSlogLevel(l.lv.Level()) }

func args(fields []Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		if level > ErrorLevel {
			return slog.LevelError + 4
		}
		return slog.LevelInfo
	}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level <= slog.LevelDebug:
		return DebugLevel
	case level <= slog.LevelInfo:
		return InfoLevel
	case level <= slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// RedirectStdLog routes the standard library logger (used by Pebble internals)
// through the provided Logger at info level.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdWriter{logger})
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Info(strings.TrimRight(string(p), "\n"), Str("source", "stdlog"))
	return len(p), nil
}
