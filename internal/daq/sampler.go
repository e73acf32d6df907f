package daq

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/towerwatch/shm/internal/shmerr"
)

// SampleSource is the abstract hardware collaborator the Sampler
// drives. Concrete implementations live outside this package (see
// source_portaudio.go, source_sim.go); only the interface is part of the
// core pipeline's contract.
type SampleSource interface {
	// Open prepares the source for reading numChannels channels at the
	// requested rate and returns the rate it actually achieved.
	Open(numChannels int, requestedRate float64) (actualRate float64, err error)
	// Read blocks until samplesPerRead samples per channel are
	// available or timeout elapses, returning a Chunk. A timeout or
	// hardware disconnect is reported as an error.
	Read(samplesPerRead int, timeout time.Duration) (Chunk, error)
	// Close releases the source.
	Close() error
}

// ChunkHandler is invoked once per delivered chunk.
type ChunkHandler func(Chunk)

// SamplerState is the observable lifecycle state of a Sampler.
type SamplerState int32

const (
	SamplerStopped SamplerState = iota
	SamplerRunning
)

// Sampler drives a SampleSource at a nominal hardware rate and delivers
// fixed-size chunks to a callback. It is re-entrancy safe: Stop after a
// read failure is non-blocking and never self-joins, so the failure
// path can't deadlock against the sampler's own goroutine.
type Sampler struct {
	source         SampleSource
	samplesPerRead int
	requestedRate  float64
	numChannels    int
	log            *log.Logger
	onChunk        ChunkHandler

	state      atomic.Int32
	actualRate atomic.Value // float64
	lastErr    atomic.Value // error

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewSampler builds a Sampler for the given source and device shape.
func NewSampler(source SampleSource, numChannels, samplesPerRead int, requestedRate float64, onChunk ChunkHandler, logger *log.Logger) *Sampler {
	if logger == nil {
		logger = log.Default()
	}
	s := &Sampler{
		source:         source,
		samplesPerRead: samplesPerRead,
		requestedRate:  requestedRate,
		numChannels:    numChannels,
		onChunk:        onChunk,
		log:            logger,
	}
	s.state.Store(int32(SamplerStopped))
	return s
}

// State returns the current lifecycle state.
func (s *Sampler) State() SamplerState { return SamplerState(s.state.Load()) }

// ActualRate returns the rate reported by the hardware after Start, or
// 0 before Start has run.
func (s *Sampler) ActualRate() float64 {
	if v, ok := s.actualRate.Load().(float64); ok {
		return v
	}
	return 0
}

// LastError returns the error that caused the most recent stop, if any.
func (s *Sampler) LastError() error {
	if v, ok := s.lastErr.Load().(error); ok {
		return v
	}
	return nil
}

// Start opens the source and begins the sampling loop on its own
// goroutine. Start is a no-op if already running.
func (s *Sampler) Start() error {
	if s.State() == SamplerRunning {
		return nil
	}

	rate, err := s.source.Open(s.numChannels, s.requestedRate)
	if err != nil {
		return shmerr.New(shmerr.HardwareUnavailable, "sampler.start", err)
	}
	s.actualRate.Store(rate)

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state.Store(int32(SamplerRunning))

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Sampler) loop() {
	defer s.wg.Done()
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		chunk, err := s.source.Read(s.samplesPerRead, time.Second)
		if err != nil {
			s.lastErr.Store(err)
			s.log.Error("sampler read failed, stopping", "err", err)
			s.state.Store(int32(SamplerStopped))
			_ = s.source.Close()
			return
		}

		if s.onChunk != nil {
			s.onChunk(chunk)
		}
	}
}

// Stop requests the sampling loop to exit. It never blocks on the loop
// goroutine's own completion from within that goroutine (the
// re-entrancy-safety requirement): a read-failure
// path that calls Stop only signals a channel that is already closed or
// about to be drained, it never calls wg.Wait() from inside loop().
func (s *Sampler) Stop(joinTimeout time.Duration) {
	if s.State() != SamplerRunning {
		return
	}
	s.state.Store(int32(SamplerStopped))

	if s.stopCh != nil {
		select {
		case <-s.stopCh:
		default:
			close(s.stopCh)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(joinTimeout):
		s.log.Warn("sampler loop did not stop within join timeout")
	}
}
