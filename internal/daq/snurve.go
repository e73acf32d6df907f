package daq

import "math"

// DefaultElasticModulusMPa is the default elastic modulus et used by the
// ASME S-N curve when a device doesn't override it.
const DefaultElasticModulusMPa = 2.05e5

// CyclesToFailure evaluates the ASME fatigue design curve for stress
// amplitude sa (MPa) and elastic modulus et (MPa), returning cycles to
// failure N. Sa <= 0 returns +Inf.
func CyclesToFailure(sa, et float64) float64 {
	if sa <= 0 {
		return math.Inf(1)
	}

	y := math.Log10(28300 * sa / et)

	var x float64
	if math.Pow(10, y) >= 20 {
		x = -4706.5245 + 1813.6228*y + 6785.5644/y -
			368.12404*y*y - 5133.7345/(y*y) +
			30.708204*y*y*y + 1596.1916/(y*y*y)
	} else {
		y2 := y * y
		y4 := y2 * y2
		y6 := y4 * y2
		x = (38.1309 - 60.1705*y2 + 25.0352*y4) /
			(1 + 1.80224*y2 - 4.68904*y4 + 2.26536*y6)
	}

	return math.Pow(10, x)
}

// SNCurvePoint is one sample of the display S-N curve.
type SNCurvePoint struct {
	SaMPa float64
	N     float64
}

// BuildSNCurve samples stress amplitude linearly over [50, 500] MPa at
// 300 points, for dashboard display.
func BuildSNCurve(et float64) []SNCurvePoint {
	const (
		lo     = 50.0
		hi     = 500.0
		points = 300
	)
	out := make([]SNCurvePoint, points)
	step := (hi - lo) / float64(points-1)
	for i := range out {
		sa := lo + step*float64(i)
		out[i] = SNCurvePoint{SaMPa: sa, N: CyclesToFailure(sa, et)}
	}
	return out
}
