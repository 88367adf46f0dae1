// Package klog sets up the kernel logger.
package klog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// InitLogger builds a text logger writing to stdout and, when logPath is not
// empty, appending to logPath as well. The returned logger is also installed
// as the slog default. An unknown level falls back to INFO with a warning.
func InitLogger(logPath, logLevel string) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, logFile)
		closer = logFile
	}
	logger := NewLogger(w, logLevel)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// NewLogger builds a text logger on w at the named level.
func NewLogger(w io.Writer, logLevel string) *slog.Logger {
	level, err := ParseLevel(logLevel)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	if err != nil {
		logger.Warn(err.Error())
	}
	return logger
}

// ParseLevel converts a level name from the config.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q, using INFO", levelStr)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
