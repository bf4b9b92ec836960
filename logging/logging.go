// Package logging builds the log/slog loggers used by the server and demos.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects level, output format and destination.
type Config struct {
	Level  string
	Format string
	Writer io.Writer
}

// LogFormat names a handler format.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Init creates a logger from cfg and installs it as the process-wide default.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// New creates a logger. Output goes to stderr unless cfg.Writer is set;
// the format defaults to text.
func New(cfg Config) *slog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}

	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	switch LogFormat(strings.ToLower(strings.TrimSpace(cfg.Format))) {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(writer, options))
	default:
		return slog.New(slog.NewTextHandler(writer, options))
	}
}

// ValidFormat reports whether format names a known handler format.
func ValidFormat(format string) bool {
	switch LogFormat(strings.ToLower(strings.TrimSpace(format))) {
	case FormatText, FormatJSON, "":
		return true
	}
	return false
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithComponent returns a logger annotated with a component field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
