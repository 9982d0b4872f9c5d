package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// NewLogger creates a JSON logger at the given level ("debug", "info",
// "warn", "error"). When file is set, output is appended there as well as
// to stdout.
func NewLogger(level, file string) (*Logger, error) {
	var out io.Writer = os.Stdout
	var closer io.Closer
	if file != "" {
		f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return &Logger{Logger: slog.New(handler), closer: closer}, nil
}

// New wraps an existing handler. Tests use it with a buffer.
func New(h slog.Handler) *Logger {
	return &Logger{Logger: slog.New(h)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Fatal logs a fatal level message and exits the program
func (l *Logger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	os.Exit(1)
}

// With returns a new logger with the given key-value pairs added to the context
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
