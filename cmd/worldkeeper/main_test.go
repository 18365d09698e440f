package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "worldkeeper dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	config := "database:\n  path: " + filepath.Join(dir, "history.db") + "\n"
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	var out bytes.Buffer
	if err := runMigrations(context.Background(), configPath, &out); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out.String(), "Applied 001_backups") {
		t.Fatalf("expected applied migrations, got %q", out.String())
	}

	out.Reset()
	if err := runMigrations(context.Background(), configPath, &out); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !strings.Contains(out.String(), "up to date") {
		t.Fatalf("expected no-op migrate, got %q", out.String())
	}
}

func TestMigrateRequiresDatabasePath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("backup:\n  compress: false\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := runMigrations(context.Background(), configPath, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without database path")
	}
}
