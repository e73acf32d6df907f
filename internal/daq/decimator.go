package daq

import "math"

// Decimator applies a windowed-sinc FIR low-pass filter to each channel
// of incoming chunks and downsamples the result to the effective rate,
// maintaining per-channel filter state across chunks so output is
// continuous.
type Decimator struct {
	factor int       // M
	kernel []float64 // h, length T
	state  [][]float64
	phase  []int // per channel: index within the next chunk of the next sample to keep
	pass   bool  // true when factor == 1: pure pass-through
}

// NewDecimator builds a decimator going from fsHw to fsEff for
// numChannels independent channels, each with its own filter state.
func NewDecimator(fsHw, fsEff float64, numChannels int) *Decimator {
	m := int(math.Max(1, math.Round(fsHw/fsEff)))

	d := &Decimator{factor: m, pass: m == 1}
	if d.pass {
		d.state = make([][]float64, numChannels)
		for i := range d.state {
			d.state[i] = nil
		}
		return d
	}

	tapCount := 8*m + 1
	if tapCount < 31 {
		tapCount = 31
	}
	if tapCount%2 == 0 {
		tapCount++
	}

	fc := clamp(0.45*(fsEff/2)/fsHw, 0.001, 0.49)
	d.kernel = lowpassKernel(fc, tapCount)

	d.state = make([][]float64, numChannels)
	for i := range d.state {
		d.state[i] = make([]float64, tapCount-1)
	}
	d.phase = make([]int, numChannels)
	return d
}

// Factor returns the decimation factor M.
func (d *Decimator) Factor() int { return d.factor }

// TapCount returns the FIR kernel length T, or 0 for a pass-through
// decimator.
func (d *Decimator) TapCount() int { return len(d.kernel) }

// Process decimates one chunk, one slice per channel, returning the
// decimated chunk in the same channel order. Channel count must match
// the decimator's configured numChannels.
func (d *Decimator) Process(channels [][]float64) [][]float64 {
	out := make([][]float64, len(channels))
	for ch, x := range channels {
		out[ch] = d.processChannel(ch, x)
	}
	return out
}

func (d *Decimator) processChannel(ch int, x []float64) []float64 {
	if d.pass {
		y := make([]float64, len(x))
		copy(y, x)
		return y
	}

	s := d.state[ch]
	tailLen := len(s)

	xPrime := make([]float64, tailLen+len(x))
	copy(xPrime, s)
	copy(xPrime[tailLen:], x)

	y := convValid(xPrime, d.kernel)

	start := d.phase[ch]
	decimated := make([]float64, 0, len(x)/d.factor+1)
	for idx := start; idx < len(y); idx += d.factor {
		decimated = append(decimated, y[idx])
	}
	d.phase[ch] = start + len(decimated)*d.factor - len(x)

	if tailLen > 0 {
		if tailLen <= len(xPrime) {
			copy(d.state[ch], xPrime[len(xPrime)-tailLen:])
		}
	}

	return decimated
}
