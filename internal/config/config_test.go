package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/halvard/anemeter/internal/config"
	"codeberg.org/halvard/anemeter/internal/errors"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
interval = 250
max_ane_power = 10000.0
powermetrics = "/opt/bin/powermetrics"
log_level = "debug"
monitor = true
telemetry = true
database = "/path/to/telemetry.db"
`)
	configPath := filepath.Join(tempDir, "anemeter.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("ANEMETER_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Interval, "Expected Interval 250")
	assert.InDelta(t, 10000.0, cfg.MaxANEPower, 0.001, "Expected MaxANEPower 10000")
	assert.Equal(t, "/opt/bin/powermetrics", cfg.Powermetrics, "Expected Powermetrics /opt/bin/powermetrics")
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.True(t, cfg.Monitor, "Expected Monitor true")
	assert.True(t, cfg.Telemetry, "Expected Telemetry true")
	assert.Equal(t, "/path/to/telemetry.db", cfg.TelemetryDB, "Expected TelemetryDB /path/to/telemetry.db")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANEMETER_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultInterval, cfg.Interval, "Expected default Interval 1000")
	assert.InDelta(t, 8000.0, cfg.MaxANEPower, 0.001, "Expected default MaxANEPower 8000")
	assert.Equal(t, config.DefaultBinPath, cfg.Powermetrics, "Expected default Powermetrics path")
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
	assert.False(t, cfg.Monitor, "Expected default Monitor false")
	assert.False(t, cfg.Once, "Expected default Once false")
	assert.False(t, cfg.Telemetry, "Expected default Telemetry false")
	assert.Equal(t, config.DefaultTelemetryDB, cfg.TelemetryDB, "Expected default TelemetryDB path")
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
This is not a valid TOML file
`)
	configPath := filepath.Join(tempDir, "anemeter.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("ANEMETER_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrReadConfig), "Expected read_config_failed, got %v", err)
}

func TestInvalidLogLevel(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
log_level = "invalid"
`)
	configPath := filepath.Join(tempDir, "anemeter.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("ANEMETER_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidLogLevel), "Expected invalid_log_level, got %v", err)
}

func TestInvalidInterval(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
interval = 0
`)
	configPath := filepath.Join(tempDir, "anemeter.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("ANEMETER_CONFIG", configPath)

	_, err = config.Load()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidInterval), "Expected invalid_interval, got %v", err)
}

func TestLogLevelFlag(t *testing.T) {
	t.Setenv("ANEMETER_CONFIG", "")

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd", "--log-level", "debug", "--interval", "500"}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, 500, cfg.Interval, "Expected Interval to be set by flag")
}

func TestFlagOverridesFile(t *testing.T) {
	tempDir := t.TempDir()

	configContent := []byte(`
interval = 250
`)
	configPath := filepath.Join(tempDir, "anemeter.toml")
	err := os.WriteFile(configPath, configContent, 0o600)
	require.NoError(t, err)

	t.Setenv("ANEMETER_CONFIG", configPath)

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd", "--interval", "100"}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Interval, "Expected flag to override file value")
}

func TestValidate(t *testing.T) {
	cfg := &config.Config{
		Interval:     1000,
		MaxANEPower:  8000,
		Powermetrics: config.DefaultBinPath,
		LogLevel:     "info",
	}
	require.NoError(t, cfg.Validate())

	cfg.MaxANEPower = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidMaxPower), "Expected invalid_max_power, got %v", err)
}
