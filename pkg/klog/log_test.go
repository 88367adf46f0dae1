package klog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"debug", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNewLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "WARN")
	logger.Info("hidden")
	logger.Warn("shown", "pid", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("INFO record written at WARN level")
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "pid=3") {
		t.Errorf("output = %q", out)
	}
}

func TestNewLoggerUnknownLevelWarns(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "LOUD")
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "LOUD") {
		t.Errorf("output = %q, want a warning naming the level", buf.String())
	}
}

func TestInitLoggerWritesFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "kernel.log")
	logger, closer, err := InitLogger(path, "DEBUG")
	if err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}
	logger.Debug("booted")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=booted") {
		t.Errorf("log file = %q", data)
	}
}

func TestInitLoggerBadPath(t *testing.T) {
	if _, _, err := InitLogger(filepath.Join(t.TempDir(), "missing", "kernel.log"), "INFO"); err == nil {
		t.Error("InitLogger() with a missing directory succeeded")
	}
}
