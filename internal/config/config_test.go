package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveConfigPathPrefersLocalConfigs(t *testing.T) {
	root := t.TempDir()
	configsDir := filepath.Join(root, "configs")
	if err := os.MkdirAll(configsDir, 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	configPath := filepath.Join(configsDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  executable: java\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get cwd: %v", err)
	}
	defer func() {
		_ = os.Chdir(cwd)
	}()

	if err := os.Chdir(root); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}

	resolved := resolveConfigPath()
	if resolved != "./configs/config.yaml" {
		t.Fatalf("expected ./configs/config.yaml, got %s", resolved)
	}
}

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	root := t.TempDir()
	configsDir := filepath.Join(root, "configs")
	if err := os.MkdirAll(configsDir, 0755); err != nil {
		t.Fatalf("failed to create configs dir: %v", err)
	}
	configPath := filepath.Join(configsDir, "config.yaml")
	content := `
server:
  executable: /usr/bin/java
  args: ["-Xmx2G", "-jar", "server.jar", "nogui"]
storage:
  world_dir: world
backup:
  interval: 20m
  compress: false
commands:
  super_users: ["Steve"]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Backup.Interval != 20*time.Minute {
		t.Fatalf("expected 20m interval, got %v", cfg.Backup.Interval)
	}
	if cfg.Backup.Compress {
		t.Fatalf("expected compression to be disabled")
	}
	if cfg.Backup.PollInterval != 10*time.Second {
		t.Fatalf("expected default poll interval, got %v", cfg.Backup.PollInterval)
	}
	if cfg.Commands.Marker != "!" {
		t.Fatalf("expected default marker, got %q", cfg.Commands.Marker)
	}
	if len(cfg.Commands.SuperUsers) != 1 || cfg.Commands.SuperUsers[0] != "Steve" {
		t.Fatalf("unexpected super users: %v", cfg.Commands.SuperUsers)
	}
	if cfg.Storage.WorldDir != filepath.Join(root, "world") {
		t.Fatalf("expected world dir relative to config root, got %s", cfg.Storage.WorldDir)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(configPath, []byte("logging:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	backupDir := filepath.Join(root, "elsewhere")
	t.Setenv("BACKUP_DIR", backupDir)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.BackupDir != backupDir {
		t.Fatalf("expected backup dir override, got %s", cfg.Storage.BackupDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected log level override, got %s", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.Backup.Interval = 0 }},
		{"bad schedule", func(c *Config) { c.Backup.Schedule = "every tuesday" }},
		{"long marker", func(c *Config) { c.Commands.Marker = "!!" }},
		{"blank marker", func(c *Config) { c.Commands.Marker = " " }},
		{"bad compression level", func(c *Config) { c.Backup.CompressionLevel = 12 }},
		{"negative compression level", func(c *Config) { c.Backup.CompressionLevel = -1 }},
		{"unknown destination", func(c *Config) {
			c.Backup.Destinations = []DestinationConfig{{Type: "ftp"}}
		}},
		{"sftp without auth", func(c *Config) {
			c.Backup.Destinations = []DestinationConfig{{Type: "sftp", Host: "h", Username: "u"}}
		}},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("expected default config to be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestCompressionLevelZeroSelectsDefault(t *testing.T) {
	cfg := Default()
	cfg.Backup.CompressionLevel = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected level 0 to be accepted as the default: %v", err)
	}
}

func TestNormalizeStoragePathsDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.normalizeStoragePaths("configs/config.yaml")

	if cfg.Storage.DataDir == "" {
		t.Fatalf("expected DataDir to be set")
	}
	if cfg.Storage.WorldDir == "" {
		t.Fatalf("expected WorldDir to be set")
	}
	if cfg.Storage.BackupDir == "" {
		t.Fatalf("expected BackupDir to be set")
	}
	if !filepath.IsAbs(cfg.Server.WorkingDir) {
		t.Fatalf("expected absolute working dir, got %s", cfg.Server.WorkingDir)
	}
}
