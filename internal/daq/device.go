package daq

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/towerwatch/shm/internal/ring"
)

// DefaultStreamWindowSec is the default viewing window for stream ring
// buffers.
const DefaultStreamWindowSec = 30.0

// DeviceConfig bundles the per-device tunables a DeviceRuntime needs
// beyond its channel list.
type DeviceConfig struct {
	Name             string
	DisplayName      string
	Model            string
	Channels         []ChannelConfig
	SampleRate       float64 // fs_hw
	EffectiveRate    float64 // fs_eff
	SamplesPerRead   int
	LogIntervalSec   float64
	DispMethod       DispMethod
	StreamWindowSec  float64
	StorageWindowSec float64
	BinStepDeg       float64
}

// DeviceRuntime owns one monitored device's full pipeline: sampler,
// decimator, per-channel stream and storage ring buffers (decimated
// acceleration and displacement), and the analysis worker, wired
// together as a decimate -> buffer -> analyze fan-out.
type DeviceRuntime struct {
	cfg DeviceConfig
	log *log.Logger

	sampler   *Sampler
	decimator *Decimator
	worker    *AnalysisWorker

	streamAccel []*ring.Float
	streamDisp  []*ring.Float
	storageBuf  []*ring.Float
}

// NewDeviceRuntime wires a DeviceRuntime around source. worker is
// constructed by the caller (it owns the damage logger, CSV log, and
// IoT publisher collaborators) and its lifecycle is tied to this
// device's.
func NewDeviceRuntime(cfg DeviceConfig, source SampleSource, worker *AnalysisWorker, logger *log.Logger) *DeviceRuntime {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.StreamWindowSec <= 0 {
		cfg.StreamWindowSec = DefaultStreamWindowSec
	}
	if cfg.StorageWindowSec <= 0 {
		cfg.StorageWindowSec = DefaultStreamWindowSec
	}

	n := len(cfg.Channels)
	dr := &DeviceRuntime{
		cfg:         cfg,
		log:         logger.With("device", cfg.Name),
		decimator:   NewDecimator(cfg.SampleRate, cfg.EffectiveRate, n),
		worker:      worker,
		streamAccel: make([]*ring.Float, n),
		streamDisp:  make([]*ring.Float, n),
		storageBuf:  make([]*ring.Float, n),
	}

	streamCap := int(cfg.EffectiveRate * cfg.StreamWindowSec)
	storageCap := int(cfg.EffectiveRate * cfg.StorageWindowSec)
	for i := range dr.streamAccel {
		dr.streamAccel[i] = ring.NewFloat(streamCap)
		dr.streamDisp[i] = ring.NewFloat(streamCap)
		dr.storageBuf[i] = ring.NewFloat(storageCap)
	}

	dr.sampler = NewSampler(source, n, cfg.SamplesPerRead, cfg.SampleRate, dr.onChunk, logger)
	return dr
}

// Start opens the sampler and begins delivering chunks, and starts the
// analysis worker consuming them.
func (dr *DeviceRuntime) Start() error {
	dr.worker.Start()
	return dr.sampler.Start()
}

// Stop halts the sampler and then the analysis worker, stopping the
// producer before the consumer.
func (dr *DeviceRuntime) Stop(joinTimeout time.Duration) {
	dr.sampler.Stop(joinTimeout)
	dr.worker.Stop(joinTimeout)
}

// onChunk is the sampler callback: decimate, fan the result into the
// stream and storage ring buffers (acceleration and, for every channel,
// displacement), and submit the decimated chunk to the analysis
// worker's bounded queue.
func (dr *DeviceRuntime) onChunk(raw Chunk) {
	decimated := dr.decimator.Process(raw.Channels)

	for ch, samples := range decimated {
		if ch >= len(dr.streamAccel) {
			break
		}
		dr.streamAccel[ch].Push(samples)
		dr.storageBuf[ch].Push(samples)

		unit := ""
		if ch < len(dr.cfg.Channels) {
			unit = dr.cfg.Channels[ch].Unit
		}
		disp := AccelToDisplacement(samples, dr.cfg.EffectiveRate, dr.cfg.DispMethod, unit)
		dr.streamDisp[ch].Push(disp)
	}

	dr.worker.Submit(Chunk{Channels: decimated})
}

// StreamTail returns the most recent n decimated acceleration samples
// for channel ch, for dashboard streaming.
func (dr *DeviceRuntime) StreamTail(ch, n int) []float64 {
	if ch < 0 || ch >= len(dr.streamAccel) {
		return nil
	}
	return dr.streamAccel[ch].Tail(n)
}

// DisplacementTail returns the most recent n displacement samples for
// channel ch.
func (dr *DeviceRuntime) DisplacementTail(ch, n int) []float64 {
	if ch < 0 || ch >= len(dr.streamDisp) {
		return nil
	}
	return dr.streamDisp[ch].Tail(n)
}

// StorageSnapshot returns up to durationSec seconds of decimated
// acceleration for every channel, for the storage service to write as
// a TDMS segment.
func (dr *DeviceRuntime) StorageSnapshot(durationSec float64) [][]float64 {
	n := int(dr.cfg.EffectiveRate * durationSec)
	out := make([][]float64, len(dr.storageBuf))
	for i, buf := range dr.storageBuf {
		out[i] = buf.Tail(n)
	}
	return out
}

// LastFatigue exposes the worker's last fatigue snapshot for the
// status/dashboard facade.
func (dr *DeviceRuntime) LastFatigue() FatigueSnapshot { return dr.worker.LastSnapshot() }

// Name returns the device's configured name.
func (dr *DeviceRuntime) Name() string { return dr.cfg.Name }
