package daq

import (
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	mu       sync.Mutex
	payloads []any
}

func (s *stubPublisher) Publish(_ string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *stubPublisher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func twoChannelConfig() []ChannelConfig {
	return []ChannelConfig{
		{ID: 0, Enabled: true, Kind: ChannelAccel, Unit: "m/s²"},
		{ID: 1, Enabled: true, Kind: ChannelAccel, Unit: "m/s²"},
	}
}

func TestAnalysisWorker_ClosesWindowAndPublishes(t *testing.T) {
	dir := t.TempDir()
	damage, err := NewDamageLogger("tower-a", dir, DefaultBinStepDeg, nil)
	require.NoError(t, err)
	csvLog, err := NewCSVLog("tower-a", dir)
	require.NoError(t, err)
	pub := &stubPublisher{}

	w := NewAnalysisWorker(
		"tower-a", "tower-a", 1600, 0.05, DispFFT,
		twoChannelConfig(), damage, csvLog, pub, DefaultDirectionalParams(), nil,
	)
	w.Start()
	defer w.Stop(time.Second)

	fs := 1600.0
	n := 800
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 5 * float64(i) / fs)
	}

	for i := 0; i < 4; i++ {
		w.Submit(Chunk{Channels: [][]float64{samples, samples}})
	}

	deadline := time.After(2 * time.Second)
	for pub.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no window closed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	snap := w.LastSnapshot()
	assert.NotEmpty(t, snap.DPhi)
	assert.GreaterOrEqual(t, snap.Dmax, 0.0)
}

func TestAnalysisWorker_SkipsWindowButStillClearsAccumulators(t *testing.T) {
	dir := t.TempDir()
	damage, err := NewDamageLogger("tower-b", dir, DefaultBinStepDeg, nil)
	require.NoError(t, err)

	w := NewAnalysisWorker(
		"tower-b", "tower-b", 1600, 0, DispFFT,
		twoChannelConfig(), damage, nil, nil, DefaultDirectionalParams(), nil,
	)
	w.windowStart = time.Now()
	w.accumulate(Chunk{Channels: [][]float64{{1, 2, 3}, {1, 2, 3}}})
	require.Equal(t, 3, w.stats[0].Count)

	// Removing the damage directory makes persistence fail, so the
	// window is skipped.
	require.NoError(t, os.RemoveAll(dir))
	w.closeWindow(time.Now())
	assert.Equal(t, 0, w.stats[0].Count)
	assert.Len(t, w.accBuffers[0], 0)
}
