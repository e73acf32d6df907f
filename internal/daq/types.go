// Package daq implements the per-device signal-processing and
// fatigue-accumulation pipeline: sampling, anti-aliased decimation,
// double integration to displacement, rainflow counting, ASME S-N
// damage accumulation, and the worker that ties a window's worth of
// samples to a persisted cumulative-damage record.
//
// The package uses a flat, file-per-concern layout (sampler,
// decimator, analysis worker, damage logger each own a file) rather
// than splitting every concern into its own sub-package, since these
// stages share tightly-coupled per-device state.
package daq

import (
	"fmt"
	"math"
)

// ChannelKind discriminates channel types. Only Accel exists today; the
// field is kept open (tagged union style) so a future channel type
// doesn't require an incompatible schema change.
type ChannelKind string

const (
	ChannelAccel ChannelKind = "accel"
)

// ChannelConfig is the per-channel configuration record.
type ChannelConfig struct {
	ID          int         `json:"id"`
	Enabled     bool        `json:"enabled"`
	Kind        ChannelKind `json:"type"`
	Unit        string      `json:"unit"` // "g" or "m/s²"
	Sensitivity float64     `json:"sensitivity"`
	Coupling    string      `json:"coupling"` // "AC" or "DC"
	IEPE        bool        `json:"iepe"`
	IEPECurrent float64     `json:"iepe_current"`
	Remark      string      `json:"remark"`
}

// Validate enforces the coupling/IEPE invariant: DC
// coupling forbids IEPE excitation.
func (c ChannelConfig) Validate() error {
	if c.Coupling == "DC" && c.IEPE {
		return fmt.Errorf("channel %d: DC coupling forbids IEPE", c.ID)
	}
	return nil
}

// Chunk is one delivery from the sampler: one ordered float64 slice per
// channel, all channels equal length.
type Chunk struct {
	Channels [][]float64
}

// SamplesPerChannel returns the common per-channel sample count, or 0
// for an empty chunk.
func (c Chunk) SamplesPerChannel() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// WindowStats are the per-channel, per-log-window accumulated
// acceleration statistics.
type WindowStats struct {
	Count         int
	Min, Max      float64
	SumOfSquares  float64
}

// Update folds one decimated acceleration chunk into the running stats.
func (s *WindowStats) Update(samples []float64) {
	for _, v := range samples {
		if s.Count == 0 || v < s.Min {
			s.Min = v
		}
		if s.Count == 0 || v > s.Max {
			s.Max = v
		}
		s.SumOfSquares += v * v
		s.Count++
	}
}

// RMS returns the root-mean-square of the accumulated window, or 0 if
// empty.
func (s WindowStats) RMS() float64 {
	if s.Count == 0 {
		return 0
	}
	return math.Sqrt(s.SumOfSquares / float64(s.Count))
}

// DisplacementStats are the per-channel displacement-window statistics.
type DisplacementStats struct {
	Max, Min, RMS, P2P float64
}

// DisplacementStatsOf computes DisplacementStats over a full window of
// displacement samples.
func DisplacementStatsOf(u []float64) DisplacementStats {
	if len(u) == 0 {
		return DisplacementStats{}
	}
	var sumSq float64
	mn, mx := u[0], u[0]
	for _, v := range u {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
		sumSq += v * v
	}
	return DisplacementStats{
		Max: mx,
		Min: mn,
		RMS: math.Sqrt(sumSq / float64(len(u))),
		P2P: mx - mn,
	}
}
