package daq

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/towerwatch/shm/internal/shmerr"
)

const (
	primaryFileName = "damage_cumulative.txt"
	backupFileName  = "damage_cumulative.bak"
)

// CumulativeDamageRecord is the persisted JSON record.
type CumulativeDamageRecord struct {
	Timestamp  string    `json:"timestamp"`
	Device     string    `json:"device"`
	PhiDegList []float64 `json:"phi_deg_list"`
	DPhiCum    []float64 `json:"D_phi_cum"`
	DCumMax    float64   `json:"D_cum_max"`
	PhiDegCum  float64   `json:"phi_deg_cum"`
}

// DamageLogger maintains cumulative directional damage per bin with
// atomic, backed-up JSON persistence. One instance per
// device.
type DamageLogger struct {
	mu       sync.Mutex
	device   string
	dir      string
	primary  string
	backup   string
	log      *log.Logger
	phiList  []float64
	dPhiCum  []float64
	lastTime time.Time
}

// NewDamageLogger loads (or initializes) the cumulative record for
// device under dir, using the load invariant: try
// primary, then backup, then zero-init.
func NewDamageLogger(device, dir string, binStepDeg float64, logger *log.Logger) (*DamageLogger, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, shmerr.New(shmerr.PersistenceError, "damagelogger.new", err)
	}

	dl := &DamageLogger{
		device:  device,
		dir:     dir,
		primary: filepath.Join(dir, primaryFileName),
		backup:  filepath.Join(dir, backupFileName),
		log:     logger.With("device", device),
	}

	if rec, ok := dl.tryLoad(dl.primary); ok {
		dl.phiList, dl.dPhiCum = rec.PhiDegList, rec.DPhiCum
		dl.lastTime = parseTimeOrNow(rec.Timestamp)
		return dl, nil
	}

	if rec, ok := dl.tryLoad(dl.backup); ok {
		dl.log.Warn("primary damage record unreadable, restored from backup")
		dl.phiList, dl.dPhiCum = rec.PhiDegList, rec.DPhiCum
		dl.lastTime = parseTimeOrNow(rec.Timestamp)
		if err := dl.writeAtomic(); err != nil {
			return nil, err
		}
		return dl, nil
	}

	dl.phiList, dl.dPhiCum = defaultBins(binStepDeg)
	dl.lastTime = time.Now().UTC()
	if err := dl.writeAtomic(); err != nil {
		return nil, err
	}
	return dl, nil
}

func parseTimeOrNow(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}

func defaultBins(binStepDeg float64) (phi, damage []float64) {
	if binStepDeg <= 0 {
		binStepDeg = DefaultBinStepDeg
	}
	bins := int(math.Round(360 / binStepDeg))
	phi = make([]float64, bins)
	damage = make([]float64, bins)
	for i := range phi {
		phi[i] = float64(i) * binStepDeg
	}
	return phi, damage
}

func (dl *DamageLogger) tryLoad(path string) (CumulativeDamageRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CumulativeDamageRecord{}, false
	}
	var rec CumulativeDamageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CumulativeDamageRecord{}, false
	}
	if len(rec.PhiDegList) == 0 || len(rec.DPhiCum) == 0 {
		return CumulativeDamageRecord{}, false
	}
	return rec, true
}

// Snapshot returns a copy of the current cumulative state.
func (dl *DamageLogger) Snapshot() CumulativeDamageRecord {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.recordLocked()
}

func (dl *DamageLogger) recordLocked() CumulativeDamageRecord {
	phi := append([]float64(nil), dl.phiList...)
	dmg := append([]float64(nil), dl.dPhiCum...)
	dmax, dmaxPhi := maxWithArgmaxPhi(phi, dmg)
	return CumulativeDamageRecord{
		Timestamp:  dl.lastTime.UTC().Format(time.RFC3339),
		Device:     dl.device,
		PhiDegList: phi,
		DPhiCum:    dmg,
		DCumMax:    dmax,
		PhiDegCum:  dmaxPhi,
	}
}

func maxWithArgmaxPhi(phi, dmg []float64) (max, phiAtMax float64) {
	if len(dmg) == 0 {
		return 0, 0
	}
	best := 0
	for i := 1; i < len(dmg); i++ {
		if dmg[i] > dmg[best] {
			best = i
		}
	}
	return dmg[best], phi[best]
}

// Update folds one window's directional damage into the cumulative
// record, remapping bins first if the incoming layout's bin count
// differs from the stored one, then
// persists atomically.
func (dl *DamageLogger) Update(window DirectionalDamage, ts time.Time) (CumulativeDamageRecord, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if len(window.PhiDegList) == 0 || len(window.DPhi) == 0 {
		return dl.recordLocked(), nil
	}

	if len(dl.dPhiCum) != len(window.DPhi) || len(dl.phiList) != len(window.PhiDegList) {
		dl.remapLocked(window.PhiDegList)
	}

	for b := range dl.dPhiCum {
		dl.dPhiCum[b] += window.DPhi[b]
	}
	dl.lastTime = ts.UTC()

	if err := dl.writeAtomic(); err != nil {
		return dl.recordLocked(), err
	}
	return dl.recordLocked(), nil
}

// remapLocked implements the bin-size migration: for each new bin
// center, find the old bin minimizing circular angular distance and
// copy its value.
func (dl *DamageLogger) remapLocked(newPhi []float64) {
	oldPhi, oldDamage := dl.phiList, dl.dPhiCum
	newDamage := make([]float64, len(newPhi))

	if len(oldPhi) == len(oldDamage) && len(oldPhi) > 0 {
		for i, np := range newPhi {
			best, bestDist := 0, math.Inf(1)
			for j, op := range oldPhi {
				d := circularDistanceDeg(op, np)
				if d < bestDist {
					bestDist = d
					best = j
				}
			}
			newDamage[i] = oldDamage[best]
		}
	}

	dl.phiList = append([]float64(nil), newPhi...)
	dl.dPhiCum = newDamage
}

func circularDistanceDeg(a, b float64) float64 {
	d := math.Mod(a-b+180, 360)
	if d < 0 {
		d += 360
	}
	return math.Abs(d - 180)
}

// Reset overwrites the cumulative record with zeros at all bins.
func (dl *DamageLogger) Reset() error {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	for i := range dl.dPhiCum {
		dl.dPhiCum[i] = 0
	}
	dl.lastTime = time.Now().UTC()
	return dl.writeAtomic()
}

// writeAtomic implements the atomic write protocol:
// back up the current primary, write a temp file, then atomically
// rename it into place. A crash at any point leaves at least one valid
// file among primary and backup.
func (dl *DamageLogger) writeAtomic() error {
	if data, err := os.ReadFile(dl.primary); err == nil {
		_ = os.WriteFile(dl.backup, data, 0o644)
	}

	payload, err := json.MarshalIndent(dl.recordLocked(), "", "  ")
	if err != nil {
		return shmerr.New(shmerr.PersistenceError, "damagelogger.write", err)
	}

	tmp := dl.primary + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return shmerr.New(shmerr.PersistenceError, "damagelogger.write", err)
	}
	if err := os.Rename(tmp, dl.primary); err != nil {
		return shmerr.New(shmerr.PersistenceError, "damagelogger.write", err)
	}
	return nil
}
