// Package logging builds the process loggers.
//
// Components take a *log.Logger. When a log file is configured, every
// component logger writes to one rotating file; otherwise they write to
// stderr.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go.
type Config struct {
	// File is the log file path. Empty logs to stderr.
	File string
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int
	// Quiet discards all output.
	Quiet bool
}

// Factory hands out prefixed loggers sharing one output.
type Factory struct {
	out    io.Writer
	closer io.Closer
}

// New creates a logger factory for cfg. Close it to release the log file.
func New(cfg Config) (*Factory, error) {
	if cfg.Quiet {
		return &Factory{out: io.Discard}, nil
	}
	if cfg.File == "" {
		return &Factory{out: os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return &Factory{out: lj, closer: lj}, nil
}

// Logger returns a logger for component, e.g. Logger("sync") prefixes "[sync] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
