package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Backup   BackupConfig   `yaml:"backup" json:"backup"`
	Commands CommandsConfig `yaml:"commands" json:"commands"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Status   StatusConfig   `yaml:"status" json:"status"`
}

// ServerConfig describes the supervised game server process
type ServerConfig struct {
	Executable  string        `yaml:"executable" json:"executable"`
	Args        []string      `yaml:"args" json:"args"`
	WorkingDir  string        `yaml:"working_dir" json:"working_dir"`
	StopCommand string        `yaml:"stop_command" json:"stop_command"`
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	WorldDir  string `yaml:"world_dir" json:"world_dir"`
	BackupDir string `yaml:"backup_dir" json:"backup_dir"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
}

// BackupConfig contains world backup settings
type BackupConfig struct {
	Interval         time.Duration       `yaml:"interval" json:"interval"`
	Schedule         string              `yaml:"schedule" json:"schedule"` // optional cron expression
	Compress         bool                `yaml:"compress" json:"compress"`
	CompressionLevel int                 `yaml:"compression_level" json:"compression_level"`
	Exclude          []string            `yaml:"exclude" json:"exclude"`
	PollInterval     time.Duration       `yaml:"poll_interval" json:"poll_interval"`
	QuiesceTimeout   time.Duration       `yaml:"quiesce_timeout" json:"quiesce_timeout"`
	PreCommands      []string            `yaml:"pre_commands" json:"pre_commands"`
	PostCommands     []string            `yaml:"post_commands" json:"post_commands"`
	RetentionCount   int                 `yaml:"retention_count" json:"retention_count"`
	Destinations     []DestinationConfig `yaml:"destinations" json:"destinations"`
}

// DestinationConfig describes an off-site copy target for backup archives
type DestinationConfig struct {
	Type string `yaml:"type" json:"type"` // "local", "sftp", "s3"
	Path string `yaml:"path" json:"path"`

	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	KeyPath  string `yaml:"key_path" json:"key_path"`

	KnownHostsPath  string `yaml:"known_hosts_path" json:"known_hosts_path"`
	TrustOnFirstUse bool   `yaml:"trust_on_first_use" json:"trust_on_first_use"`

	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
}

// CommandsConfig controls the privileged command surface
type CommandsConfig struct {
	Marker          string   `yaml:"marker" json:"marker"`
	BroadcastPrefix string   `yaml:"broadcast_prefix" json:"broadcast_prefix"`
	SuperUsers      []string `yaml:"super_users" json:"super_users"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
}

// DatabaseConfig contains backup history settings; an empty path disables it
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// StatusConfig contains the read-only status server settings
type StatusConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Executable:  "java",
			Args:        []string{"-jar", "server.jar", "nogui"},
			WorkingDir:  ".",
			StopCommand: "stop",
			StopTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			WorldDir:  "./world",
			BackupDir: "./world_backups",
			DataDir:   "./data",
		},
		Backup: BackupConfig{
			Interval:         24 * time.Hour,
			Compress:         true,
			CompressionLevel: 6,
			Exclude:          []string{"**/*.lock"},
			PollInterval:     10 * time.Second,
			QuiesceTimeout:   5 * time.Second,
		},
		Commands: CommandsConfig{
			Marker:          "!",
			BroadcastPrefix: "/say ",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// Load loads configuration from file and environment variables.
// An empty path falls back to CONFIG_PATH and then ./configs/config.yaml.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := strings.TrimSpace(path)
	if configPath == "" {
		configPath = GetConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if path != "" {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	cfg.applyEnv()

	// Normalize storage paths based on config location
	cfg.normalizeStoragePaths(configPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if worldDir := os.Getenv("WORLD_DIR"); worldDir != "" {
		c.Storage.WorldDir = worldDir
	}

	if backupDir := os.Getenv("BACKUP_DIR"); backupDir != "" {
		c.Storage.BackupDir = backupDir
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDir = dataDir
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}

	if addr := os.Getenv("STATUS_ADDR"); addr != "" {
		c.Status.Listen = addr
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Executable) == "" {
		return fmt.Errorf("server.executable is required")
	}

	if strings.TrimSpace(c.Storage.WorldDir) == "" {
		return fmt.Errorf("storage.world_dir is required")
	}

	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		return fmt.Errorf("storage.backup_dir is required")
	}

	if c.Backup.Interval <= 0 {
		return fmt.Errorf("backup.interval must be positive")
	}

	if c.Backup.PollInterval <= 0 {
		return fmt.Errorf("backup.poll_interval must be positive")
	}

	if c.Backup.QuiesceTimeout < 0 {
		return fmt.Errorf("backup.quiesce_timeout must not be negative")
	}

	if c.Backup.CompressionLevel < 0 || c.Backup.CompressionLevel > 9 {
		return fmt.Errorf("backup.compression_level must be between 1 and 9, or 0 for the default")
	}

	if c.Backup.RetentionCount < 0 {
		return fmt.Errorf("backup.retention_count must not be negative")
	}

	if expr := strings.TrimSpace(c.Backup.Schedule); expr != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(expr); err != nil {
			return fmt.Errorf("backup.schedule is not a valid cron expression: %w", err)
		}
	}

	for i, dest := range c.Backup.Destinations {
		switch dest.Type {
		case "local":
			if dest.Path == "" {
				return fmt.Errorf("backup.destinations[%d]: path is required", i)
			}
		case "sftp":
			if dest.Host == "" || dest.Username == "" {
				return fmt.Errorf("backup.destinations[%d]: host and username are required", i)
			}
			if dest.KeyPath == "" && dest.Password == "" {
				return fmt.Errorf("backup.destinations[%d]: key_path or password is required", i)
			}
		case "s3":
			if dest.Bucket == "" {
				return fmt.Errorf("backup.destinations[%d]: bucket is required", i)
			}
		default:
			return fmt.Errorf("backup.destinations[%d]: unsupported type %q", i, dest.Type)
		}
	}

	marker := c.Commands.Marker
	if len([]rune(marker)) != 1 || strings.TrimSpace(marker) == "" {
		return fmt.Errorf("commands.marker must be a single non-space character")
	}

	return nil
}

func resolveConfigPath() string {
	candidates := []string{"./configs/config.yaml", "../configs/config.yaml"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "./configs/config.yaml"
}

// GetConfigPath returns the resolved config path
func GetConfigPath() string {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = resolveConfigPath()
	}
	return configPath
}

func (c *Config) normalizeStoragePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	if !filepath.IsAbs(baseDir) {
		if absBase, err := filepath.Abs(baseDir); err == nil {
			baseDir = absBase
		}
	}

	rootDir := baseDir
	if filepath.Base(baseDir) == "configs" {
		rootDir = filepath.Dir(baseDir)
	}

	resolvePath := func(value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return ""
		}
		if filepath.IsAbs(trimmed) {
			return filepath.Clean(trimmed)
		}
		return filepath.Clean(filepath.Join(rootDir, trimmed))
	}

	if strings.TrimSpace(c.Server.WorkingDir) == "" {
		c.Server.WorkingDir = rootDir
	}
	c.Server.WorkingDir = resolvePath(c.Server.WorkingDir)

	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = filepath.Join(rootDir, "data")
	}
	c.Storage.DataDir = resolvePath(c.Storage.DataDir)

	if strings.TrimSpace(c.Storage.WorldDir) == "" {
		c.Storage.WorldDir = filepath.Join(c.Server.WorkingDir, "world")
	}
	c.Storage.WorldDir = resolvePath(c.Storage.WorldDir)

	if strings.TrimSpace(c.Storage.BackupDir) == "" {
		c.Storage.BackupDir = filepath.Join(rootDir, "world_backups")
	}
	c.Storage.BackupDir = resolvePath(c.Storage.BackupDir)

	c.Database.Path = resolvePath(c.Database.Path)
	c.Logging.File = resolvePath(c.Logging.File)

	for i := range c.Backup.Destinations {
		dest := &c.Backup.Destinations[i]
		if dest.Type == "local" {
			dest.Path = resolvePath(dest.Path)
		}
		if dest.Type == "sftp" && strings.TrimSpace(dest.KnownHostsPath) == "" {
			dest.KnownHostsPath = filepath.Join(c.Storage.DataDir, "known_hosts")
		}
	}
}
