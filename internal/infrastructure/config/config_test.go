package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: /data/clarify.sqlite
server:
  port: 9090
  allowed_origins:
    - http://localhost:4000
matching:
  default_tolerance: 10
  max_combination_size: 8
observability:
  logging:
    level: debug
    format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/clarify.sqlite", cfg.Storage.DatabasePath)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:4000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10.0, cfg.Matching.DefaultTolerance)
	assert.Equal(t, 8, cfg.Matching.MaxCombinationSize)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RECONCILE_TEST_DB", "/tmp/expanded.sqlite")

	path := writeConfig(t, `
storage:
  database_path: ${RECONCILE_TEST_DB}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/expanded.sqlite", cfg.Storage.DatabasePath)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage: {}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "clarify.sqlite", cfg.Storage.DatabasePath)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5.0, cfg.Matching.DefaultTolerance)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "console", cfg.Observability.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "env.sqlite")
	t.Setenv("RECONCILE_PORT", "9999")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := LoadFromEnv()
	assert.Equal(t, "env.sqlite", cfg.Storage.DatabasePath)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Observability.Logging.Level)
}

func TestLoadOrEnvWithPathFallsBack(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "fallback.sqlite")

	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, "fallback.sqlite", cfg.Storage.DatabasePath)
}
