package daq

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

// DefaultAlarmHoldSec is how long the alarm line stays asserted after a
// threshold crossing when HoldSec isn't configured.
const DefaultAlarmHoldSec = 10.0

// AlarmConfig configures the damage-threshold GPIO alarm output. On a
// crossing — any direction bin's cumulative damage rising to or above
// Threshold — the line is driven high for HoldSec and then released,
// whether or not the bin is still over threshold.
type AlarmConfig struct {
	Enabled   bool
	Chip      string
	Line      int
	ActiveLow bool
	Threshold float64
	HoldSec   float64
}

// Alarm drives a single GPIO line through go-gpiocdev: a chip+line
// request with set-value-on-transition, pulsed on a fatigue threshold
// crossing.
type Alarm struct {
	cfg AlarmConfig
	log *log.Logger

	mu        sync.Mutex
	line      *gpiocdev.Line
	active    bool
	wasOver   bool
	holdTimer *time.Timer
}

// NewAlarm opens the configured GPIO line as an output, initially
// de-asserted. If cfg.Enabled is false, the returned Alarm is a no-op
// that never touches hardware.
func NewAlarm(cfg AlarmConfig, logger *log.Logger) (*Alarm, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.HoldSec <= 0 {
		cfg.HoldSec = DefaultAlarmHoldSec
	}
	a := &Alarm{cfg: cfg, log: logger}
	if !cfg.Enabled {
		return a, nil
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, gpiocdev.AsOutput(a.levelFor(false)))
	if err != nil {
		return nil, err
	}
	a.line = line
	return a, nil
}

// Close releases the underlying GPIO line, if one was opened.
func (a *Alarm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holdTimer != nil {
		a.holdTimer.Stop()
	}
	if a.line == nil {
		return nil
	}
	return a.line.Close()
}

// Evaluate checks the cumulative damage record from the most recently
// closed window and pulses the alarm line on a rising-edge threshold
// crossing: any bin going from below Threshold to at-or-above it.
func (a *Alarm) Evaluate(record CumulativeDamageRecord) {
	if !a.cfg.Enabled {
		return
	}
	over := false
	for _, d := range record.DPhiCum {
		if d >= a.cfg.Threshold {
			over = true
			break
		}
	}

	a.mu.Lock()
	crossed := over && !a.wasOver
	a.wasOver = over
	a.mu.Unlock()

	if crossed {
		a.log.Warn("damage threshold crossed, asserting alarm", "threshold", a.cfg.Threshold, "device", record.Device)
		a.pulse()
	}
}

// Active reports whether the alarm line is currently asserted.
func (a *Alarm) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Alarm) pulse() {
	a.mu.Lock()
	a.active = true
	if a.holdTimer != nil {
		a.holdTimer.Stop()
	}
	a.holdTimer = time.AfterFunc(time.Duration(a.cfg.HoldSec*float64(time.Second)), a.release)
	a.mu.Unlock()
	a.writeLevel(true)
}

func (a *Alarm) release() {
	a.mu.Lock()
	a.active = false
	a.mu.Unlock()
	a.writeLevel(false)
}

func (a *Alarm) writeLevel(active bool) {
	if a.line == nil {
		return
	}
	if err := a.line.SetValue(a.levelFor(active)); err != nil {
		a.log.Error("alarm: failed to set gpio line", "chip", a.cfg.Chip, "line", a.cfg.Line, "err", err)
	}
}

func (a *Alarm) levelFor(active bool) int {
	high := active
	if a.cfg.ActiveLow {
		high = !high
	}
	if high {
		return 1
	}
	return 0
}
