package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/towerwatch/shm/internal/shmerr"
)

// SnapshotSource is the narrow per-device collaborator the storage
// service needs: a snapshot of the last durationSec
// seconds of decimated acceleration, one slice per channel.
type SnapshotSource interface {
	Name() string
	StorageSnapshot(durationSec float64) [][]float64
}

// ServiceConfig configures the storage service's timer and retention
// policy.
type ServiceConfig struct {
	IntervalSec     float64
	DurationSec     float64
	OutputDir       string
	FilenameFormat  string
	RetentionMonths int
	SampleRate      float64
	EffectiveRate   float64
}

// Service wakes every IntervalSec, captures a snapshot of each
// registered device's storage ring buffers, writes a TDMS segment per
// non-empty snapshot, and enforces month-granular retention before
// each run.
type Service struct {
	cfg     ServiceConfig
	devices []SnapshotSource
	log     *log.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewService builds a Service over devices. Each written segment names
// its channels ch0, ch1, ... and carries only the sample rates, waveform
// increment and start time from cfg; per-channel unit, remark,
// sensitivity, coupling, type and IEPE properties are written empty.
func NewService(cfg ServiceConfig, devices []SnapshotSource, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.FilenameFormat == "" {
		cfg.FilenameFormat = "{display_name}_%Y%m%d_%H%M%S.tdms"
	}
	return &Service{cfg: cfg, devices: devices, log: logger}
}

// Start begins the timer loop on its own goroutine.
func (s *Service) Start() {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop()
}

// Stop signals the loop to exit and waits up to joinTimeout.
func (s *Service) Stop(joinTimeout time.Duration) {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(joinTimeout):
		s.log.Warn("storage service did not stop within join timeout")
	}
}

func (s *Service) loop() {
	defer close(s.doneCh)
	interval := time.Duration(s.cfg.IntervalSec * float64(time.Second))

	for {
		start := time.Now()
		s.runOnce(start)

		elapsed := time.Since(start)
		sleepFor := interval - elapsed
		if sleepFor < 0 {
			sleepFor = 0
		}
		select {
		case <-s.stopCh:
			return
		case <-time.After(sleepFor):
		}
	}
}

func (s *Service) runOnce(now time.Time) {
	if err := s.cleanupOldSegments(now); err != nil {
		s.log.Error("retention cleanup failed", "err", err)
	}

	for _, dev := range s.devices {
		snap := dev.StorageSnapshot(s.cfg.DurationSec)
		if !anyNonEmpty(snap) {
			continue
		}
		if err := s.writeDeviceSnapshot(now, dev.Name(), snap); err != nil {
			s.log.Error("tdms write failed", "device", dev.Name(), "err", err)
		}
	}
}

func anyNonEmpty(snap [][]float64) bool {
	for _, ch := range snap {
		if len(ch) > 0 {
			return true
		}
	}
	return false
}

func (s *Service) writeDeviceSnapshot(now time.Time, device string, snap [][]float64) error {
	month := now.UTC().Format("200601")
	day := now.UTC().Format("02")
	destDir := filepath.Join(s.cfg.OutputDir, month, day)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return shmerr.New(shmerr.PersistenceError, "storage.writesnapshot", err)
	}

	filename, err := renderFilename(s.cfg.FilenameFormat, device, now)
	if err != nil {
		return err
	}

	channels := make([]ChannelSegment, len(snap))
	for i, samples := range snap {
		channels[i] = ChannelSegment{
			Name: "ch" + strconv.Itoa(i),
			Properties: ChannelProperties{
				SampleRate:          s.cfg.SampleRate,
				EffectiveSampleRate: s.cfg.EffectiveRate,
				WfIncrement:         1.0 / maxFloat(s.cfg.EffectiveRate, 1),
				WfStartTime:         now.UTC(),
			},
			Samples: samples,
		}
	}

	return WriteSegment(filepath.Join(destDir, filename), channels)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func renderFilename(format, displayName string, ts time.Time) (string, error) {
	// filename_format carries a {display_name} placeholder plus
	// strftime-style time directives.
	withTime, err := strftimeFormat(format, ts)
	if err != nil {
		return "", shmerr.New(shmerr.ConfigInvalid, "storage.filename", err)
	}
	return fmt.Sprintf(withTime, displayName), nil
}

func strftimeFormat(format string, ts time.Time) (string, error) {
	// Swap the caller's {display_name} placeholder out before handing
	// the pattern to strftime, then back in as a %s verb for Sprintf.
	placeholder := "\x00DISPLAY\x00"
	escaped := strings.ReplaceAll(format, "{display_name}", placeholder)
	f, err := strftime.New(escaped)
	if err != nil {
		return "", err
	}
	rendered := f.FormatString(ts)
	return strings.ReplaceAll(rendered, placeholder, "%s"), nil
}

// cleanupOldSegments removes month folders older than RetentionMonths:
// with m = 12·Y + M, any folder with m < current_m - (retention_months
// - 1) is deleted entirely.
func (s *Service) cleanupOldSegments(now time.Time) error {
	if s.cfg.RetentionMonths <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.OutputDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return shmerr.New(shmerr.PersistenceError, "storage.retention", err)
	}

	cutoff := monthValue(now) - (s.cfg.RetentionMonths - 1)
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) != 6 {
			continue
		}
		year, month, ok := parseYYYYMM(e.Name())
		if !ok {
			continue
		}
		if year*12+month < cutoff {
			dir := filepath.Join(s.cfg.OutputDir, e.Name())
			if err := os.RemoveAll(dir); err != nil {
				s.log.Error("retention: failed to remove directory", "dir", dir, "err", err)
			} else {
				s.log.Info("retention: removed expired TDMS directory", "dir", dir)
			}
		}
	}
	return nil
}

func monthValue(t time.Time) int {
	u := t.UTC()
	return u.Year()*12 + int(u.Month())
}

func parseYYYYMM(name string) (year, month int, ok bool) {
	for _, c := range name {
		if c < '0' || c > '9' {
			return 0, 0, false
		}
	}
	y, err := strconv.Atoi(name[:4])
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(name[4:6])
	if err != nil || m < 1 || m > 12 {
		return 0, 0, false
	}
	return y, m, true
}
