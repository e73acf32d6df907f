package daq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccelToDisplacement_EmptyAndSingle(t *testing.T) {
	assert.Equal(t, []float64{}, AccelToDisplacement(nil, 1600, DispFFT, "m/s²"))
	assert.Equal(t, []float64{2.0}, AccelToDisplacement([]float64{2.0}, 1600, DispTime, "m/s²"))
}

func TestAccelToDisplacement_ZeroInputIsZeroOutput(t *testing.T) {
	zeros := make([]float64, 256)
	for _, method := range []DispMethod{DispFFT, DispTime} {
		out := AccelToDisplacement(zeros, 1600, method, "m/s²")
		for i, v := range out {
			assert.InDeltaf(t, 0, v, 1e-9, "method=%s index=%d", method, i)
		}
	}
}

func TestAccelToDisplacement_FFTPeakFrequency(t *testing.T) {
	const fs = 1600.0
	const freq = 50.0
	n := 1600
	a := make([]float64, n)
	// a(t) = -A*omega^2*sin(omega t) is the acceleration of a pure
	// sinusoidal displacement A*sin(omega t); integrating twice should
	// recover a sinusoid at the same frequency.
	omega := 2 * math.Pi * freq
	for i := range a {
		tt := float64(i) / fs
		a[i] = -omega * omega * math.Sin(omega*tt)
	}

	u := AccelToDisplacement(a, fs, DispFFT, "m/s²")
	require := assert.New(t)
	require.Equal(n, len(u))

	// Dominant frequency bin of the recovered displacement should be
	// the 50 Hz bin (index = freq * n / fs).
	fft := newPeakFinder(u)
	peakBin := fft.peakBin()
	expectedBin := int(math.Round(freq * float64(n) / fs))
	require.InDelta(expectedBin, peakBin, 1)
}

// peakFinder is a tiny goertzel-free magnitude peak finder used only by
// tests, independent of the production FFT helper in displacement.go.
type peakFinder struct{ x []float64 }

func newPeakFinder(x []float64) peakFinder { return peakFinder{x: x} }

func (p peakFinder) peakBin() int {
	n := len(p.x)
	best, bestMag := 0, -1.0
	for k := 1; k < n/2; k++ {
		var re, im float64
		for t, v := range p.x {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += v * math.Cos(angle)
			im += v * math.Sin(angle)
		}
		mag := re*re + im*im
		if mag > bestMag {
			bestMag = mag
			best = k
		}
	}
	return best
}

func TestAccelToDisplacement_GUnitConversion(t *testing.T) {
	n := 64
	a := make([]float64, n)
	a[10] = 1.0 // 1 g
	mps2 := AccelToDisplacement(a, 1600, DispTime, "m/s²")
	g := AccelToDisplacement(a, 1600, DispTime, "g")
	// Not directly comparable sample-by-sample after detrend, but the g
	// input should integrate to larger magnitude displacement than the
	// raw m/s^2 interpretation of the same numeric samples.
	assert.Greater(t, maxAbs(g), maxAbs(mps2)*0.5)
}

func maxAbs(x []float64) float64 {
	var m float64
	for _, v := range x {
		if math.Abs(v) > m {
			m = math.Abs(v)
		}
	}
	return m
}
