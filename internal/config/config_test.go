package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SENTIO_GENERATION_API_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sentio", cfg.Service.Name)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "data", cfg.Storage.BaseDir)
	assert.Equal(t, "deepseek-chat", cfg.Generation.Model)
	assert.Equal(t, 0.7, cfg.Generation.Temperature)
	assert.Equal(t, 3, cfg.Generation.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Workflow.Deadline)
	assert.Equal(t, 9090, cfg.Monitoring.MetricsPort)
	assert.False(t, cfg.Monitoring.MetricsDisabled)
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("SENTIO_GENERATION_API_KEY", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SENTIO_GENERATION_API_KEY")
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("SENTIO_GENERATION_API_KEY", "test-key")
	t.Setenv("SENTIO_GENERATION_MODEL", "from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: postgres
  database_url: postgres://localhost/sentio
generation:
  model: from-yaml
  temperature: 0.3
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/sentio", cfg.Storage.DatabaseURL)
	assert.Equal(t, "from-env", cfg.Generation.Model, "env overrides yaml")
	assert.Equal(t, 0.3, cfg.Generation.Temperature)
	assert.Equal(t, 2*time.Minute, cfg.Workflow.Deadline, "durations come from env or defaults")
}

func TestValidateBackendRequirements(t *testing.T) {
	t.Setenv("SENTIO_GENERATION_API_KEY", "test-key")
	t.Setenv("SENTIO_STORAGE_BACKEND", "postgres")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestValidateUnknownBackend(t *testing.T) {
	t.Setenv("SENTIO_GENERATION_API_KEY", "test-key")
	t.Setenv("SENTIO_STORAGE_BACKEND", "mongodb")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}

func TestValidateTemperatureRange(t *testing.T) {
	t.Setenv("SENTIO_GENERATION_API_KEY", "test-key")
	t.Setenv("SENTIO_GENERATION_TEMPERATURE", "3.5")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")
}
