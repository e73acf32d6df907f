package daq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDirectionalDamage_PureXAxisMotion(t *testing.T) {
	const fs = 1600.0
	const freq = 2.0
	const amplitude = 10.0 // mm; k*A ≈ 2266 MPa lies inside the stress admission band [48, 3999]
	n := 1600

	ux := make([]float64, n)
	uy := make([]float64, n)
	for i := range ux {
		tt := float64(i) / fs
		ux[i] = amplitude * math.Sin(2*math.Pi*freq*tt)
	}

	p := DefaultDirectionalParams()
	result := ComputeDirectionalDamage(ux, uy, p)

	require.Len(t, result.DPhi, 72)

	// argmax should land at the 0 deg or 180 deg bin (equivalent under cos).
	assert.True(t, result.PhiDeg == 0 || result.PhiDeg == 180,
		"expected argmax bin at 0 or 180, got %v", result.PhiDeg)

	// Sa_max at the argmax bin should be k*A.
	assert.InDelta(t, p.StressFactor*amplitude, result.SaMax, p.StressFactor*amplitude*0.05)

	// Damage at the 90 degree bin should be (near) zero: u_phi there is
	// entirely from uy (zero), so no cycles are extracted.
	idx90 := int(math.Round(90 / p.BinStepDeg))
	assert.InDelta(t, 0, result.DPhi[idx90], 1e-12)
}
