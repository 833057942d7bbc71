// Package logging builds the process slog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config represents the logging configuration
type Config struct {
	Level      slog.Level
	Format     string // json or text
	FilePath   string // optional log file, rotated by size
	MaxSize    int64  // MB, 0 disables rotation
	MaxBackups int
	Console    bool
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:      slog.LevelInfo,
		Format:     "json",
		MaxSize:    100,
		MaxBackups: 5,
		Console:    true,
	}
}

// FromSettings converts the textual log settings loaded by viper
func FromSettings(level, format, file string, maxSizeMB int64, maxBackups int) Config {
	return Config{
		Level:      ParseLevel(level),
		Format:     strings.ToLower(format),
		FilePath:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Console:    true,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new logger with the given configuration. The returned
// closer releases the log file, if any.
func NewLogger(config Config) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if config.Console {
		writers = append(writers, os.Stderr)
	}

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		fileWriter, err := NewRotatingFileWriter(config.FilePath, config.MaxSize*1024*1024, config.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: config.Level}
	var handler slog.Handler
	switch config.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	case "", "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	return slog.New(handler), closer, nil
}

// SetDefault creates and sets a default logger with the given configuration.
// Close the returned closer once logging is no longer needed.
func SetDefault(config Config) (io.Closer, error) {
	logger, closer, err := NewLogger(config)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}
