package daq

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/towerwatch/shm/internal/shmerr"
)

// csvHeader is the fixed column order
var csvHeader = []string{
	"timestamp", "device", "type", "channel",
	"acc_max", "acc_min", "acc_rms",
	"disp_max", "disp_min", "disp_rms",
	"fatigue_Dmax", "fatigue_phi_deg", "fatigue_Sa_max",
}

var dailyFilePattern = strftimeMustCompile("%Y%m%d.csv")

func strftimeMustCompile(pattern string) *strftime.Strftime {
	f, err := strftime.New(pattern)
	if err != nil {
		panic(err)
	}
	return f
}

// CSVLog writes one row per active channel's window statistics plus one
// fatigue row per window, to a daily file under the device's data
// directory. It opens a new file (writing the header only if the file
// is new) whenever the UTC date changes.
type CSVLog struct {
	mu       sync.Mutex
	dir      string
	device   string
	file     *os.File
	writer   *csv.Writer
	openName string
}

// NewCSVLog prepares a CSV logger writing into dir.
func NewCSVLog(device, dir string) (*CSVLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, shmerr.New(shmerr.PersistenceError, "csvlog.new", err)
	}
	return &CSVLog{dir: dir, device: device}, nil
}

// StatRow is one type=stat row.
type StatRow struct {
	Timestamp time.Time
	Channel   int
	AccMax    float64
	AccMin    float64
	AccRMS    float64
	DispMax   float64
	DispMin   float64
	DispRMS   float64
}

// FatigueRow is one type=fatigue row.
type FatigueRow struct {
	Timestamp time.Time
	Dmax      float64
	PhiDeg    float64
	SaMax     float64
}

// WriteWindow appends the stat rows (one per active channel, count>0)
// followed by one fatigue row,
func (c *CSVLog) WriteWindow(stats []StatRow, fatigue FatigueRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureOpenLocked(fatigue.Timestamp); err != nil {
		return err
	}

	for _, s := range stats {
		row := []string{
			formatTimestamp(s.Timestamp), c.device, "stat", strconv.Itoa(s.Channel),
			formatFloat(s.AccMax), formatFloat(s.AccMin), formatFloat(s.AccRMS),
			formatFloat(s.DispMax), formatFloat(s.DispMin), formatFloat(s.DispRMS),
			"", "", "",
		}
		if err := c.writer.Write(row); err != nil {
			return shmerr.New(shmerr.PersistenceError, "csvlog.write", err)
		}
	}

	fRow := []string{
		formatTimestamp(fatigue.Timestamp), c.device, "fatigue", "",
		"", "", "", "", "", "",
		formatFloat(fatigue.Dmax), formatFloat(fatigue.PhiDeg), formatFloat(fatigue.SaMax),
	}
	if err := c.writer.Write(fRow); err != nil {
		return shmerr.New(shmerr.PersistenceError, "csvlog.write", err)
	}

	c.writer.Flush()
	return c.writer.Error()
}

func (c *CSVLog) ensureOpenLocked(ts time.Time) error {
	name := dailyFilePattern.FormatString(ts.UTC())

	if c.file != nil && name == c.openName {
		return nil
	}
	if c.file != nil {
		c.writer.Flush()
		_ = c.file.Close()
		c.file, c.writer = nil, nil
	}

	fullPath := filepath.Join(c.dir, name)
	_, statErr := os.Stat(fullPath)
	alreadyThere := statErr == nil

	f, err := os.OpenFile(fullPath, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return shmerr.New(shmerr.PersistenceError, "csvlog.open", err)
	}

	c.file = f
	c.openName = name
	c.writer = csv.NewWriter(f)

	if !alreadyThere {
		if err := c.writer.Write(csvHeader); err != nil {
			return shmerr.New(shmerr.PersistenceError, "csvlog.header", err)
		}
		c.writer.Flush()
	}
	return nil
}

// Close flushes and closes the currently open daily file, if any.
func (c *CSVLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	c.writer.Flush()
	err := c.file.Close()
	c.file, c.writer = nil, nil
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}
