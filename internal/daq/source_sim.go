package daq

import (
	"math"
	"sync"
	"time"

	"github.com/towerwatch/shm/internal/shmerr"
)

// SimSource is a deterministic SampleSource used for tests and for
// running the pipeline without acquisition hardware attached. Each
// channel's value at time t comes from Signal, a single sinusoid unless
// replaced; no noise is added.
type SimSource struct {
	mu          sync.Mutex
	rate        float64
	numChannels int
	sampleIdx   int
	Signal      func(channel int, t float64) float64
	Fail        bool // when true, Read returns a HardwareUnavailable error
}

// NewSimSource builds a simulator producing sin(2*pi*freqHz*t) on every
// channel when no custom Signal is supplied.
func NewSimSource(freqHz float64) *SimSource {
	return &SimSource{
		Signal: func(_ int, t float64) float64 {
			return math.Sin(2 * math.Pi * freqHz * t)
		},
	}
}

func (s *SimSource) Open(numChannels int, requestedRate float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numChannels = numChannels
	s.rate = requestedRate
	s.sampleIdx = 0
	return requestedRate, nil
}

func (s *SimSource) Read(samplesPerRead int, _ time.Duration) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail {
		return Chunk{}, shmerr.New(shmerr.HardwareUnavailable, "simsource.read", nil)
	}

	channels := make([][]float64, s.numChannels)
	for ch := range channels {
		data := make([]float64, samplesPerRead)
		for i := 0; i < samplesPerRead; i++ {
			t := float64(s.sampleIdx+i) / s.rate
			data[i] = s.Signal(ch, t)
		}
		channels[ch] = data
	}
	s.sampleIdx += samplesPerRead
	return Chunk{Channels: channels}, nil
}

func (s *SimSource) Close() error { return nil }
