package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string        `env:"TEST_NAME" yaml:"name" default:"sentio"`
	Port    int           `env:"TEST_PORT" yaml:"port" default:"8080"`
	Timeout time.Duration `env:"TEST_TIMEOUT" yaml:"timeout" default:"30s"`
	Ratio   float64       `env:"TEST_RATIO" yaml:"ratio" default:"0.7"`
	Debug   bool          `env:"TEST_DEBUG" yaml:"debug" default:"false"`
	Tags    []string      `env:"TEST_TAGS" yaml:"tags" default:"a,b"`
	Nested  nestedConfig  `yaml:"nested,inline"`
}

type nestedConfig struct {
	Key string `env:"TEST_NESTED_KEY" yaml:"key"`
}

type requiredConfig struct {
	APIKey string `env:"TEST_API_KEY" yaml:"api_key" required:"true"`
}

type validatedConfig struct {
	Port int `env:"TEST_VPORT" yaml:"port" default:"8080"`
}

func (c validatedConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

func TestDefaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, GetConfigFromEnvVars(&cfg))

	assert.Equal(t, "sentio", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.7, cfg.Ratio)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TEST_NAME", "override")
	t.Setenv("TEST_PORT", "9090")
	t.Setenv("TEST_TIMEOUT", "5s")
	t.Setenv("TEST_NESTED_KEY", "nested-value")

	var cfg testConfig
	require.NoError(t, GetConfigFromEnvVars(&cfg))

	assert.Equal(t, "override", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "nested-value", cfg.Nested.Key)
}

func TestRequiredFieldMissing(t *testing.T) {
	var cfg requiredConfig
	err := GetConfigFromEnvVars(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_API_KEY")
}

func TestYAMLFileWithEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\nport: 1234\n"), 0o600))

	t.Setenv("TEST_PORT", "4321")

	var cfg testConfig
	require.NoError(t, GetConfig(&cfg, path, false))

	assert.Equal(t, "from-file", cfg.Name)
	// Environment takes precedence over the file
	assert.Equal(t, 4321, cfg.Port)
}

func TestMissingFileFallback(t *testing.T) {
	var cfg testConfig
	require.NoError(t, GetConfig(&cfg, "/nonexistent/config.yaml", true))
	assert.Equal(t, "sentio", cfg.Name)

	err := GetConfig(&cfg, "/nonexistent/config.yaml", false)
	require.Error(t, err)
}

func TestValidatorCalled(t *testing.T) {
	t.Setenv("TEST_VPORT", "99999")

	var cfg validatedConfig
	err := GetConfigFromEnvVars(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port out of range")
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("TEST_PORT", "not-a-number")

	var cfg testConfig
	err := GetConfigFromEnvVars(&cfg)
	require.Error(t, err)
}
