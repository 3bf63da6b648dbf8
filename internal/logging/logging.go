// Package logging configures the process-wide slog logger for the relay.
//
// Levels from most to least verbose: debug, info, warn, error. Debug output
// carries source locations.
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json"})
//	slog.Info("client registered", "session", id)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls the handler built by New and Setup.
type Options struct {
	Level  string    // debug, info, warn, error (default info)
	Format string    // text or json (default text)
	Output io.Writer // default os.Stdout
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLevel(level string) slog.Level {
	switch normalize(level) {
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

// Validate reports whether level and format are understood.
func Validate(level, format string) error {
	switch normalize(level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return fmt.Errorf("logging: unknown level %q (valid: %s)", level, LevelNames())
	}
	switch normalize(format) {
	case "text", "json", "":
	default:
		return fmt.Errorf("logging: unknown format %q (valid: text, json)", format)
	}
	return nil
}

// LevelNames lists the accepted level names for flag help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// New builds a logger from opts without installing it.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts.Level, opts.Format); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if normalize(opts.Format) == "json" {
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
}

// Setup installs the logger described by opts as the slog default.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
