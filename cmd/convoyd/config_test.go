package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "./data/convoy.db", cfg.Database.DSN)
	assert.Equal(t, "./data/repos", cfg.Workspace.Root)
	assert.Equal(t, 5*time.Minute, cfg.Git.CommandTimeout)
	assert.Equal(t, 4, cfg.Checks.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Checks.HealthTimeout)
	assert.Equal(t, "./data/backups", cfg.Backup.Dir)
	assert.Equal(t, 720*time.Hour, cfg.Backup.MaxAge)
	assert.Equal(t, 20, cfg.Backup.MaxCount)
	assert.Empty(t, cfg.Backup.S3Bucket)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  shutdown_timeout: 15s

database:
  dsn: "/tmp/convoy-test.db"

workspace:
  root: "/srv/vabhub/repos"

backup:
  dir: "/srv/vabhub/backups"
  max_count: 5

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/convoy-test.db", cfg.Database.DSN)
	assert.Equal(t, "/srv/vabhub/repos", cfg.Workspace.Root)
	assert.Equal(t, "/srv/vabhub/backups", cfg.Backup.Dir)
	assert.Equal(t, 5, cfg.Backup.MaxCount)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("CONVOY_SERVER_HOST", "192.168.1.1")
	t.Setenv("CONVOY_SERVER_PORT", "3000")
	t.Setenv("CONVOY_DATABASE_DSN", "/custom/path.db")
	t.Setenv("CONVOY_WORKSPACE_ROOT", "/custom/repos")
	t.Setenv("CONVOY_BACKUP_S3_BUCKET", "vabhub-backups")
	t.Setenv("CONVOY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "/custom/repos", cfg.Workspace.Root)
	assert.Equal(t, "vabhub-backups", cfg.Backup.S3Bucket)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // missing file falls back to defaults

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := SetupLogger(&Config{Log: LogConfig{Level: "info", Format: format}})
		assert.NotNil(t, logger)
	}
}

func TestSetupLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "invalid"} {
		// unknown levels fall back to info, never panic
		logger := SetupLogger(&Config{Log: LogConfig{Level: level, Format: "json"}})
		assert.NotNil(t, logger)
	}
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 8090},
	}
	assert.Equal(t, "localhost:8090", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CONVOY_SERVER_HOST",
		"CONVOY_SERVER_PORT",
		"CONVOY_DATABASE_DSN",
		"CONVOY_WORKSPACE_ROOT",
		"CONVOY_BACKUP_S3_BUCKET",
		"CONVOY_LOG_LEVEL",
		"CONVOY_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
