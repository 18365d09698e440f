package logging

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TheGojiOG/worldkeeper/internal/config"
)

func TestInitAndCloseLogger(t *testing.T) {
	root := t.TempDir()
	logPath := filepath.Join(root, "supervisor.log")

	_, err := Init(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		File:       logPath,
		MaxSize:    10,
		MaxBackups: 1,
		MaxAge:     1,
	})
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}

	Component("test").Info("test_log")
	if err := Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
}

func TestNewRespectsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, config.LoggingConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected info line to be filtered, got %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json warn line, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
