package daq

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// DispMethod selects the double-integration technique.
type DispMethod string

const (
	DispFFT  DispMethod = "fft"
	DispTime DispMethod = "time"
)

const gravity = 9.80665 // m/s^2 per g

const lowFreqCutoffHz = 0.05

// AccelToDisplacement converts an acceleration signal sampled at fs to
// displacement using the configured method. unit is "g" or "m/s²"; "g"
// inputs are pre-multiplied by standard gravity before integrating.
// Empty input returns an empty slice; a single sample is returned after
// unit conversion only, without detrending or integration.
func AccelToDisplacement(a []float64, fs float64, method DispMethod, unit string) []float64 {
	if len(a) == 0 {
		return []float64{}
	}

	accel := make([]float64, len(a))
	copy(accel, a)
	if unit == "g" {
		for i := range accel {
			accel[i] *= gravity
		}
	}

	if len(accel) == 1 {
		return accel
	}

	var u []float64
	switch method {
	case DispTime:
		u = integrateTime(accel, fs)
	default:
		u = integrateFFT(accel, fs)
	}
	return detrend(u)
}

// integrateFFT implements the FFT double-integration method: double integration in the frequency domain is division by
// -omega^2, with the DC bin and everything below 0.05 Hz zeroed to
// suppress low-frequency blow-up.
func integrateFFT(a []float64, fs float64) []float64 {
	n := len(a)
	fft := fourier.NewFFT(n)
	spectrum := fft.Coefficients(nil, a) // length n/2+1, half-complex real FFT

	u := make([]complex128, len(spectrum))
	for k, A := range spectrum {
		freq := float64(k) * fs / float64(n)
		if k == 0 || freq < lowFreqCutoffHz {
			u[k] = 0
			continue
		}
		omega := 2 * math.Pi * freq
		u[k] = complex(-1/(omega*omega), 0) * A
	}

	out := fft.Sequence(nil, u)
	// fft.Sequence is the unnormalized inverse transform (returns n·x);
	// divide by n to get back the true amplitude.
	for i := range out {
		out[i] /= float64(n)
	}
	return out
}

// integrateTime implements the time-domain cumulative-sum method
//: acceleration is mean-removed, cumulatively summed and
// scaled to velocity, mean-removed again, then cumulatively summed and
// scaled to displacement.
func integrateTime(a []float64, fs float64) []float64 {
	n := len(a)
	accel := make([]float64, n)
	copy(accel, a)
	removeMean(accel)

	v := make([]float64, n)
	var acc float64
	for i, x := range accel {
		acc += x
		v[i] = acc / fs
	}
	removeMean(v)

	u := make([]float64, n)
	acc = 0
	for i, x := range v {
		acc += x
		u[i] = acc / fs
	}
	return u
}

func removeMean(x []float64) {
	if len(x) == 0 {
		return
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	mean := sum / float64(len(x))
	for i := range x {
		x[i] -= mean
	}
}

// detrend subtracts the best-fit degree-1 polynomial over sample index
// from x, using an ordinary least-squares fit (gonum/stat.LinearRegression).
func detrend(x []float64) []float64 {
	n := len(x)
	if n < 2 {
		return x
	}
	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(idx, x, nil, false)
	out := make([]float64, n)
	for i, v := range x {
		out[i] = v - (alpha + beta*float64(i))
	}
	return out
}
