// Package logging provides the logger used by the scorer, the sandbox client
// and the CLI. A logger is built once at startup and handed to each
// component; there is no package-level default.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Logger is the interface components log through.
// Implement it to plug in another backend (zap, logrus, ...).
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Level represents the logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "silent", "off":
		return LevelSilent
	default:
		return LevelInfo
	}
}

// =============================================================================
// DefaultLogger
// =============================================================================

// DefaultLogger writes "[prefix] [LEVEL] msg" lines through the standard log
// package.
type DefaultLogger struct {
	level  Level
	prefix string
	logger *log.Logger
}

// NewDefaultLogger creates a logger writing to stderr.
func NewDefaultLogger(prefix string, level Level) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		prefix: prefix,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetOutput sets the output writer.
func (l *DefaultLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// SetLevel sets the log level.
func (l *DefaultLogger) SetLevel(level Level) {
	l.level = level
}

func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	if l.level <= LevelDebug {
		l.log("DEBUG", format, args...)
	}
}

func (l *DefaultLogger) Info(format string, args ...interface{}) {
	if l.level <= LevelInfo {
		l.log("INFO", format, args...)
	}
}

func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	if l.level <= LevelWarn {
		l.log("WARN", format, args...)
	}
}

func (l *DefaultLogger) Error(format string, args ...interface{}) {
	if l.level <= LevelError {
		l.log("ERROR", format, args...)
	}
}

func (l *DefaultLogger) log(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		l.logger.Printf("[%s] [%s] %s", l.prefix, level, msg)
	} else {
		l.logger.Printf("[%s] %s", level, msg)
	}
}

// =============================================================================
// NopLogger
// =============================================================================

// NopLogger discards all messages.
type NopLogger struct{}

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}

// =============================================================================
// SlogLogger
// =============================================================================

// SlogLogger adapts a *slog.Logger to Logger. Messages are formatted with
// fmt.Sprintf and attached component attributes are kept.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger builds a structured logger. Format is "json" or "text".
func NewSlogLogger(w io.Writer, level Level, format string) *SlogLogger {
	opts := &slog.HandlerOptions{Level: slogLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(handler)}
}

// With returns a logger that adds the given key/value attributes to every
// record.
func (l *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) Debug(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, format, args...)
}

func (l *SlogLogger) Info(format string, args ...interface{}) {
	l.emit(slog.LevelInfo, format, args...)
}

func (l *SlogLogger) Warn(format string, args ...interface{}) {
	l.emit(slog.LevelWarn, format, args...)
}

func (l *SlogLogger) Error(format string, args ...interface{}) {
	l.emit(slog.LevelError, format, args...)
}

func (l *SlogLogger) emit(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelSilent:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// New picks an implementation from a format name: "json" and "text" give a
// SlogLogger, "plain" gives a DefaultLogger.
func New(w io.Writer, level Level, format string) Logger {
	switch strings.ToLower(format) {
	case "json", "text":
		return NewSlogLogger(w, level, format)
	default:
		l := NewDefaultLogger("filescan", level)
		l.SetOutput(w)
		return l
	}
}

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

var (
	_ Logger = (*DefaultLogger)(nil)
	_ Logger = NopLogger{}
	_ Logger = (*SlogLogger)(nil)
)
