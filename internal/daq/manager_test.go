package daq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/towerwatch/shm/internal/config"
)

func testManagerConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.SampleRate = 1600
	cfg.EffectiveSampleRate = 1600
	cfg.SamplesPerRead = 160
	cfg.Storage.OutputDir = dir
	cfg.Devices = map[string]config.DeviceConfig{
		"tower-a": {
			Model:       "sim",
			DisplayName: "tower-a",
			Channels: []config.ChannelConfig{
				{ID: 0, Enabled: true, Type: "accel", Unit: "m/s²"},
				{ID: 1, Enabled: true, Type: "accel", Unit: "m/s²"},
			},
		},
	}
	return cfg
}

func simFactory(string, config.DeviceConfig) SampleSource {
	return NewSimSource(5.0)
}

func TestManager_BuildsAndStartsConfiguredDevices(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testManagerConfig(dir), simFactory, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"tower-a"}, m.DeviceNames())

	require.NoError(t, m.Start())
	defer m.Stop(time.Second)

	time.Sleep(80 * time.Millisecond)
	rt, ok := m.Device("tower-a")
	require.True(t, ok)
	assert.NotEmpty(t, rt.StreamTail(0, 10))
}

func TestManager_DisabledServicesAreNil(t *testing.T) {
	dir := t.TempDir()
	cfg := testManagerConfig(dir)
	cfg.Storage.Enabled = false
	cfg.Wind.Enabled = false

	m, err := NewManager(cfg, simFactory, nil)
	require.NoError(t, err)
	assert.Nil(t, m.storage)
	assert.Nil(t, m.wind)
}

func TestManager_WindAndStorageEnabledWireServices(t *testing.T) {
	dir := t.TempDir()
	cfg := testManagerConfig(dir)
	cfg.Storage.Enabled = true
	cfg.Storage.IntervalSec = 600
	cfg.Wind.Enabled = true
	cfg.Wind.Mode = "sim"

	m, err := NewManager(cfg, simFactory, nil)
	require.NoError(t, err)
	assert.NotNil(t, m.storage)
	assert.NotNil(t, m.wind)

	require.NoError(t, m.Start())
	m.Stop(time.Second)
}
