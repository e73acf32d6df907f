package daq

import (
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlarm_DisabledNeverOpensHardware(t *testing.T) {
	a, err := NewAlarm(AlarmConfig{Enabled: false}, nil)
	require.NoError(t, err)
	a.Evaluate(CumulativeDamageRecord{DPhiCum: []float64{100, 200}})
	assert.False(t, a.Active())
}

func TestAlarm_PulsesOnRisingEdgeOnly(t *testing.T) {
	a := &Alarm{cfg: AlarmConfig{Enabled: true, Threshold: 1.0, HoldSec: 10}, log: log.Default()}

	a.Evaluate(CumulativeDamageRecord{DPhiCum: []float64{0.1, 0.2}})
	assert.False(t, a.Active())

	a.Evaluate(CumulativeDamageRecord{DPhiCum: []float64{0.1, 1.0}})
	assert.True(t, a.Active())

	// Stays over threshold; no re-trigger expected but still active
	// (holdTimer not yet expired).
	a.Evaluate(CumulativeDamageRecord{DPhiCum: []float64{0.1, 1.5}})
	assert.True(t, a.Active())
}

func TestAlarm_ReleasesAfterHoldDuration(t *testing.T) {
	a := &Alarm{cfg: AlarmConfig{Enabled: true, Threshold: 1.0, HoldSec: 0.02}, log: log.Default()}
	a.Evaluate(CumulativeDamageRecord{DPhiCum: []float64{2.0}})
	assert.True(t, a.Active())

	time.Sleep(80 * time.Millisecond)
	assert.False(t, a.Active())
}

func TestAlarm_LevelForRespectsActiveLow(t *testing.T) {
	a := &Alarm{cfg: AlarmConfig{ActiveLow: false}}
	assert.Equal(t, 1, a.levelFor(true))
	assert.Equal(t, 0, a.levelFor(false))

	inverted := &Alarm{cfg: AlarmConfig{ActiveLow: true}}
	assert.Equal(t, 0, inverted.levelFor(true))
	assert.Equal(t, 1, inverted.levelFor(false))
}
