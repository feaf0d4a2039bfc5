// Package logging builds the slog logger used by the leangym commands.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Options selects the log destination and verbosity.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// File, when set, receives JSON records instead of Stderr.
	File string
	// MaxSizeMB and MaxFiles control rotation of File.
	MaxSizeMB int
	MaxFiles  int
	Stderr    io.Writer
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

// New returns a logger writing text to opts.Stderr, or JSON to opts.File. The
// returned closer releases the file and must be called when done.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.File == "" {
		w := opts.Stderr
		if w == nil {
			w = io.Discard
		}
		return slog.New(slog.NewTextHandler(w, handlerOpts)), io.NopCloser(nil), nil
	}

	f, err := OpenRotatingFile(opts.File, opts.MaxSizeMB, opts.MaxFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
	}
	return slog.New(slog.NewJSONHandler(f, handlerOpts)), f, nil
}
