package logging

import (
	"log/slog"
	"os"
	"strings"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
}

type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger builds a structured logger writing to stdout.
// Format is "json" or "text"; timestamps are normalized to UTC.
func NewSlogLogger(level slog.Level, format string) Logger {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return &SlogLogger{log: slog.New(handler)}
}

// ParseLevel maps a config level string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (sl *SlogLogger) Debug(msg string, args ...any) {
	sl.log.Debug(msg, args...)
}

func (sl *SlogLogger) Info(msg string, args ...any) {
	sl.log.Info(msg, args...)
}

func (sl *SlogLogger) Warn(msg string, args ...any) {
	sl.log.Warn(msg, args...)
}

func (sl *SlogLogger) Error(msg string, args ...any) {
	sl.log.Error(msg, args...)
}

func (sl *SlogLogger) Fatal(msg string, args ...any) {
	sl.log.Error(msg, args...)
	os.Exit(1)
}
