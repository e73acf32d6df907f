package daq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCyclesToFailure_NonPositiveStressIsInfinite(t *testing.T) {
	assert.True(t, math.IsInf(CyclesToFailure(0, DefaultElasticModulusMPa), 1))
	assert.True(t, math.IsInf(CyclesToFailure(-5, DefaultElasticModulusMPa), 1))
}

func TestCyclesToFailure_DecreasesWithStress(t *testing.T) {
	n1 := CyclesToFailure(100, DefaultElasticModulusMPa)
	n2 := CyclesToFailure(300, DefaultElasticModulusMPa)
	assert.Greater(t, n1, n2)
	assert.False(t, math.IsInf(n1, 1))
}

func TestBuildSNCurve_HasExpectedShape(t *testing.T) {
	curve := BuildSNCurve(DefaultElasticModulusMPa)
	assert.Len(t, curve, 300)
	assert.InDelta(t, 50, curve[0].SaMPa, 1e-9)
	assert.InDelta(t, 500, curve[len(curve)-1].SaMPa, 1e-9)
	assert.Greater(t, curve[0].N, curve[len(curve)-1].N)
}
