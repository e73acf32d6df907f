package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 1600.0, cfg.SampleRate)
	assert.Equal(t, "fft", cfg.DispMethod)
}

func TestLoad_DeepMergesMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"storage": {"enabled": true},
		"devices": {"tower-a": {"model": "9230", "channels": []}}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, 600.0, cfg.Storage.IntervalSec) // filled from default
	assert.Equal(t, 3, cfg.Storage.RetentionMonths)
	assert.Contains(t, cfg.Devices, "tower-a")
	assert.Equal(t, "log", cfg.IoT.Type) // untouched default block
}

func TestLoad_RateValidationRemapsLowHardwareRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sample_rate": 800}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1600.0, cfg.SampleRate)
	assert.Equal(t, 800.0, cfg.EffectiveSampleRate)
}

func TestLoad_RateValidationClampsEffectiveRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sample_rate": 2000, "effective_sample_rate": 5000}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, cfg.SampleRate)
	assert.Equal(t, 2000.0, cfg.EffectiveSampleRate)
}

func TestLoad_AlarmDefaultsToDisabled(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.False(t, cfg.Alarm.Enabled)
	assert.Equal(t, 1.0, cfg.Alarm.Threshold)
}

func TestSave_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Devices["tower-a"] = DeviceConfig{Model: "9230", DisplayName: "Tower A", Material: "aluminum"}
	cfg.Alarm.Enabled = true

	require.NoError(t, Save(path, cfg))
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Tower A", reloaded.Devices["tower-a"].DisplayName)
	assert.Equal(t, "aluminum", reloaded.Devices["tower-a"].Material)
	assert.True(t, reloaded.Alarm.Enabled)
}
