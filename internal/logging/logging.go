// Package logging builds the slog loggers used across kernsim. Kernel-side
// packages never print; they log through a *slog.Logger handed to them and
// tag it with a "component" attribute.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configure New.
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // text or json
	Writer io.Writer // defaults to os.Stderr
	Debug  bool      // forces debug level
}

// New validates opts and builds a logger. Output goes to stderr unless a
// writer is given, keeping stdout free for command output.
func New(opts Options) (*slog.Logger, error) {
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	level := ParseLevel(opts.Level)
	if opts.Debug {
		level = slog.LevelDebug
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	return NewLoggerWithWriter(level, format, w), nil
}

// NewLogger creates a logger writing to stderr.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component returns logger tagged with the component attribute, or a
// discarding logger when logger is nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("component", name)
}

// ParseLevel converts a level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
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

// ParseFormat normalizes a format name; empty means text.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want text or json)", s)
	}
}
