package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"warning level", "warning", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"invalid level", "invalid", slog.LevelInfo},
		{"empty string", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := ParseLevel(tt.input); result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings("warn", "TEXT", "/tmp/x.log", 10, 2)
	if cfg.Level != slog.LevelWarn {
		t.Errorf("Level = %v, want warn", cfg.Level)
	}
	if cfg.Format != "text" {
		t.Errorf("Format = %q, want text", cfg.Format)
	}
	if cfg.FilePath != "/tmp/x.log" || cfg.MaxSize != 10 || cfg.MaxBackups != 2 || !cfg.Console {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		logger, _, err := NewLogger(Config{Level: slog.LevelInfo, Console: true})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger returned nil logger")
		}
	})

	t.Run("file output in json", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "test.log")

		logger, closer, err := NewLogger(Config{Level: slog.LevelDebug, FilePath: logFile, MaxSize: 1, MaxBackups: 1})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer func() { _ = closer.Close() }()
		logger.Info("test message", "task_id", "t1")

		data, err := os.ReadFile(logFile)
		if err != nil {
			t.Fatalf("Log file was not created: %v", err)
		}
		if !strings.Contains(string(data), `"task_id":"t1"`) {
			t.Errorf("log line missing attribute: %s", data)
		}
	})

	t.Run("text format", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "text.log")

		logger, closer, err := NewLogger(Config{Level: slog.LevelInfo, Format: "text", FilePath: logFile})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer func() { _ = closer.Close() }()
		logger.Info("hello", "doc_id", 7)

		data, err := os.ReadFile(logFile)
		if err != nil {
			t.Fatalf("read log: %v", err)
		}
		if !strings.Contains(string(data), "doc_id=7") {
			t.Errorf("text log line missing attribute: %s", data)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if _, _, err := NewLogger(Config{Format: "xml"}); err == nil {
			t.Error("expected error for unknown format")
		}
	})

	t.Run("no outputs configured defaults to console", func(t *testing.T) {
		logger, _, err := NewLogger(Config{Level: slog.LevelInfo})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger returned nil logger")
		}
	})
}

func TestSetDefault(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	logFile := filepath.Join(t.TempDir(), "test.log")
	closer, err := SetDefault(Config{Level: slog.LevelDebug, FilePath: logFile})
	if err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	defer func() { _ = closer.Close() }()

	slog.Info("test message from default logger")

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Errorf("Log file was not created at %s", logFile)
	}
}

func TestNewLoggerRotatesFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "rotate.log")

	logger, closer, err := NewLogger(Config{Level: slog.LevelInfo, FilePath: logFile, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	payload := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		logger.Info("bulk", "payload", payload)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "rotate.1.log")); err != nil {
		t.Errorf("expected a rolled backup: %v", err)
	}
	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Errorf("current log is %d bytes, want at most 1 MiB", info.Size())
	}
}
