package daq

import (
	"math"

	"github.com/golang/geo/s1"
)

// DefaultBinStepDeg is the default azimuth bin width Δφ in degrees.
const DefaultBinStepDeg = 5.0

// DefaultStressFactor is k = 90.62 / 0.4, the default MPa-per-displacement
// conversion used to turn a projected displacement into a stress.
const DefaultStressFactor = 90.62 / 0.4

// stress admission bounds; see DESIGN.md for why these stay
// code-level defaults rather than persisted config.
const (
	DefaultStressAdmitLowMPa  = 48.0
	DefaultStressAdmitHighMPa = 3999.0
)

// DirectionalDamage is the per-window outcome of directional fatigue
// damage accumulation.
type DirectionalDamage struct {
	PhiDegList []float64
	DPhi       []float64
	PhiDeg     float64 // argmax bin center
	Dmax       float64
	SaMax      float64 // Sa_max at the argmax bin
}

// DirectionalParams bundles the tunables for ComputeDirectionalDamage so
// callers aren't stuck with a long positional argument list.
type DirectionalParams struct {
	StressFactor   float64 // k
	ElasticModulus float64 // et, MPa
	BinStepDeg     float64 // Δφ
	AdmitLowMPa    float64
	AdmitHighMPa   float64
}

// DefaultDirectionalParams returns the default tunables.
func DefaultDirectionalParams() DirectionalParams {
	return DirectionalParams{
		StressFactor:   DefaultStressFactor,
		ElasticModulus: DefaultElasticModulusMPa,
		BinStepDeg:     DefaultBinStepDeg,
		AdmitLowMPa:    DefaultStressAdmitLowMPa,
		AdmitHighMPa:   DefaultStressAdmitHighMPa,
	}
}

// ComputeDirectionalDamage rotates the ux/uy displacement pair through B
// = 360/Δφ azimuth bins, rainflow-counts the projected stress at each
// bin, and accumulates Miner's-rule damage per bin.
func ComputeDirectionalDamage(ux, uy []float64, p DirectionalParams) DirectionalDamage {
	n := len(ux)
	if n > len(uy) {
		n = len(uy)
	}

	binStep := p.BinStepDeg
	if binStep <= 0 {
		binStep = DefaultBinStepDeg
	}
	bins := int(math.Round(360 / binStep))

	phiList := make([]float64, bins)
	dPhi := make([]float64, bins)
	saMaxPerBin := make([]float64, bins)

	for b := 0; b < bins; b++ {
		// Bin centers are b*Δφ (0, Δφ, 2Δφ, ...); see DESIGN.md for the
		// reasoning behind this indexing convention.
		phiDeg := float64(b) * binStep
		phiList[b] = phiDeg
		phiRad := (s1.Angle(phiDeg) * s1.Degree).Radians()

		uphi := make([]float64, n)
		cosp, sinp := math.Cos(phiRad), math.Sin(phiRad)
		for i := 0; i < n; i++ {
			uphi[i] = ux[i]*cosp + uy[i]*sinp
		}
		removeMean(uphi)

		sigma := make([]float64, n)
		for i, v := range uphi {
			sigma[i] = p.StressFactor * v
		}

		ranges, counts := Rainflow(sigma)

		var damage, saMax float64
		for i, r := range ranges {
			sa := r / 2
			if sa > saMax {
				saMax = sa
			}
			if sa < p.AdmitLowMPa || sa > p.AdmitHighMPa {
				continue
			}
			nCycles := CyclesToFailure(sa, p.ElasticModulus)
			if math.IsInf(nCycles, 1) {
				continue
			}
			damage += counts[i] / nCycles
		}

		dPhi[b] = damage
		saMaxPerBin[b] = saMax
	}

	argmax := 0
	for b := 1; b < bins; b++ {
		if dPhi[b] > dPhi[argmax] {
			argmax = b
		}
	}

	dmax := 0.0
	saMax := 0.0
	if bins > 0 {
		dmax = dPhi[argmax]
		saMax = saMaxPerBin[argmax]
	}

	return DirectionalDamage{
		PhiDegList: phiList,
		DPhi:       dPhi,
		PhiDeg:     phiListSafe(phiList, argmax),
		Dmax:       dmax,
		SaMax:      saMax,
	}
}

func phiListSafe(phi []float64, idx int) float64 {
	if idx < 0 || idx >= len(phi) {
		return 0
	}
	return phi[idx]
}
