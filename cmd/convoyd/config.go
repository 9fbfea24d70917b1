package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Log       LogConfig       `mapstructure:"log"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Git       GitConfig       `mapstructure:"git"`
	Checks    ChecksConfig    `mapstructure:"checks"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WorkspaceConfig holds the repository checkout layout.
type WorkspaceConfig struct {
	// Root is the directory the repository working trees live under.
	Root string `mapstructure:"root"`

	// Topology is an optional topology file; empty means the built-in
	// vabhub topology.
	Topology string `mapstructure:"topology"`
}

// GitConfig holds git client configuration.
type GitConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// ChecksConfig holds health probe configuration.
type ChecksConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
}

// BackupConfig holds archive and retention configuration.
type BackupConfig struct {
	Dir      string        `mapstructure:"dir"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	MaxCount int           `mapstructure:"max_count"`

	// Offsite upload; disabled unless a bucket is set.
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Prefix    string `mapstructure:"s3_prefix"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
}

// WorkersConfig holds background worker intervals.
type WorkersConfig struct {
	DeploymentCheckInterval time.Duration `mapstructure:"deployment_check_interval"`
	BackupInterval          time.Duration `mapstructure:"backup_interval"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/convoy.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("workspace.root", "./data/repos")
	v.SetDefault("workspace.topology", "")
	v.SetDefault("git.command_timeout", "5m")
	v.SetDefault("checks.concurrency", 4)
	v.SetDefault("checks.health_timeout", "2m")
	v.SetDefault("backup.dir", "./data/backups")
	v.SetDefault("backup.max_age", "720h")
	v.SetDefault("backup.max_count", 20)
	v.SetDefault("backup.s3_bucket", "")
	v.SetDefault("backup.s3_prefix", "convoy")
	v.SetDefault("backup.s3_region", "")
	v.SetDefault("backup.s3_access_key", "")
	v.SetDefault("backup.s3_secret_key", "")
	v.SetDefault("backup.s3_endpoint", "")
	v.SetDefault("workers.deployment_check_interval", "60s")
	v.SetDefault("workers.backup_interval", "15m")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken file does not.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONVOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
