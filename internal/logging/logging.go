// Package logging builds the process slog.Logger from configuration.
package logging

import (
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/ynab-sync/internal/config"
)

// Options select the handler, level and destination.
type Options struct {
	Level   string
	Format  string // "text" | "json"
	Verbose bool   // forces debug level

	// File, when set, receives the log instead of the default writer and is
	// rotated at MaxSizeMB keeping MaxBackups old files.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// FromConfig builds Options from the effective configuration.
func FromConfig(cfg config.Config, verbose bool) Options {
	return Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Verbose:    verbose,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
}

// New returns a logger writing to w, or to the rotating file when
// opts.File is set. The returned closer releases the file; it is a no-op
// otherwise.
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if opts.Level != "" {
		parsed, err := config.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, err
		}
		level = parsed
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		w = rotating
		closer = rotating
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
