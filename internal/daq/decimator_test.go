package daq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sineWave(freqHz, fs float64, n int, phase0 int) []float64 {
	out := make([]float64, n)
	for i := range out {
		t := float64(i+phase0) / fs
		out[i] = math.Sin(2 * math.Pi * freqHz * t)
	}
	return out
}

func TestDecimator_IdentityPassthrough(t *testing.T) {
	d := NewDecimator(1600, 1600, 1)
	require.Equal(t, 1, d.Factor())

	in := sineWave(50, 1600, 400, 0)
	out := d.Process([][]float64{in})
	assert.Equal(t, in, out[0])
}

func TestDecimator_TwoToOneAttenuatesHighFreq(t *testing.T) {
	const fsHw, fsEff = 3200.0, 1600.0
	d := NewDecimator(fsHw, fsEff, 1)
	require.Equal(t, 2, d.Factor())

	total := 8000
	low := sineWave(100, fsHw, total, 0)
	high := sineWave(1400, fsHw, total, 0)
	mixed := make([]float64, total)
	for i := range mixed {
		mixed[i] = low[i] + high[i]
	}

	// Feed in chunks to exercise cross-chunk continuity.
	chunkLen := 400
	var decimated []float64
	for i := 0; i < total; i += chunkLen {
		out := d.Process([][]float64{mixed[i : i+chunkLen]})
		decimated = append(decimated, out[0]...)
	}

	// Steady state: skip the initial transient (one filter length).
	settle := d.TapCount()
	tail := decimated[settle:]

	// High frequency (1400 Hz at fsHw aliases but is attenuated by the
	// LPF before decimation); low frequency (100 Hz) should dominate.
	var sumSq, maxAbs float64
	for _, v := range tail {
		sumSq += v * v
		if math.Abs(v) > maxAbs {
			maxAbs = math.Abs(v)
		}
	}
	rms := math.Sqrt(sumSq / float64(len(tail)))
	// Pure 100Hz sine has RMS ~0.707; significant 1400Hz leakage would
	// push this well above that.
	assert.Less(t, rms, 0.85)
	assert.Less(t, maxAbs, 1.3)
}

func TestDecimator_OutputLengthMatchesCeilDivision(t *testing.T) {
	d := NewDecimator(3200, 1600, 1)
	in := make([]float64, 401)
	out := d.Process([][]float64{in})
	assert.Equal(t, (401+1)/2, len(out[0]))
}

// Concatenating decimator outputs over a sequence of chunks equals
// filtering and decimating the whole concatenated input at once, modulo
// the initial transient of T-1 samples.
func TestDecimator_ChunkingEquivalence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fsHw := float64(rapid.SampledFrom([]int{1600, 3200, 4800}).Draw(rt, "fsHw"))
		fsEff := float64(rapid.SampledFrom([]int{1600, 800}).Draw(rt, "fsEff"))
		if fsEff > fsHw {
			fsEff = fsHw
		}

		numChunks := rapid.IntRange(1, 6).Draw(rt, "numChunks")
		chunkLen := rapid.IntRange(1, 50).Draw(rt, "chunkLen")

		var whole []float64
		chunks := make([][]float64, numChunks)
		for i := range chunks {
			c := make([]float64, chunkLen)
			for j := range c {
				c[j] = rapid.Float64Range(-1, 1).Draw(rt, "v")
			}
			chunks[i] = c
			whole = append(whole, c...)
		}

		streamed := NewDecimator(fsHw, fsEff, 1)
		var streamedOut []float64
		for _, c := range chunks {
			out := streamed.Process([][]float64{c})
			streamedOut = append(streamedOut, out[0]...)
		}

		batch := NewDecimator(fsHw, fsEff, 1)
		batchOut := batch.Process([][]float64{whole})[0]

		transientOut := (streamed.TapCount() + streamed.Factor() - 1) / maxInt(streamed.Factor(), 1)
		if transientOut > len(streamedOut) || transientOut > len(batchOut) {
			return
		}
		for i := transientOut; i < len(batchOut) && i < len(streamedOut); i++ {
			if math.Abs(streamedOut[i]-batchOut[i]) > 1e-9 {
				rt.Fatalf("mismatch at %d: streamed=%v batch=%v", i, streamedOut[i], batchOut[i])
			}
		}
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
