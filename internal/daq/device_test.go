package daq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceRuntime_StreamsAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	damage, err := NewDamageLogger("tower-c", dir, DefaultBinStepDeg, nil)
	require.NoError(t, err)

	cfg := DeviceConfig{
		Name:            "tower-c",
		DisplayName:     "tower-c",
		Channels:        twoChannelConfig(),
		SampleRate:      1600,
		EffectiveRate:   1600,
		SamplesPerRead:  100,
		LogIntervalSec:  60,
		DispMethod:      DispFFT,
		StreamWindowSec: 1,
	}
	worker := NewAnalysisWorker(cfg.Name, cfg.DisplayName, cfg.EffectiveRate, cfg.LogIntervalSec, cfg.DispMethod, cfg.Channels, damage, nil, nil, DefaultDirectionalParams(), nil)

	source := NewSimSource(10)
	dr := NewDeviceRuntime(cfg, source, worker, nil)
	require.NoError(t, dr.Start())
	defer dr.Stop(time.Second)

	time.Sleep(150 * time.Millisecond)

	tail := dr.StreamTail(0, 10)
	assert.NotEmpty(t, tail)

	snap := dr.StorageSnapshot(1)
	assert.Len(t, snap, 2)
}
