package daq

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/towerwatch/shm/internal/iot"
	"github.com/towerwatch/shm/internal/shmerr"
)

// DefaultLogIntervalSec is the default analysis window length.
const DefaultLogIntervalSec = 600.0

// AnalysisPublisher is the subset of iot.Publisher the worker needs,
// narrowed so tests can supply a stub without building a real sink.
type AnalysisPublisher interface {
	Publish(topic string, payload any) error
}

// FatigueSnapshot is the ephemeral per-window outcome handed to
// callers after a window closes:
// the last window's directional result merged with the persisted
// cumulative fields.
type FatigueSnapshot struct {
	WindowStart time.Time
	Dmax        float64
	PhiDeg      float64
	SaMax       float64
	DPhi        []float64
	PhiDegList  []float64
	Cumulative  CumulativeDamageRecord
}

// AnalysisWorker consumes decimated chunks from a bounded queue on its
// own goroutine, accumulates per-channel window statistics and raw
// samples, and at each window boundary computes directional fatigue
// damage, persists it, writes a CSV row set, and emits an IoT payload.
type AnalysisWorker struct {
	device      string
	displayName string
	fsEff       float64
	logInterval time.Duration
	disp        DispMethod
	channels    []ChannelConfig

	queue   *chunkQueue
	damage  *DamageLogger
	csv     *CSVLog
	pub     AnalysisPublisher
	alarm   *Alarm
	dirParm DirectionalParams
	log     *log.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	// mutable worker-goroutine-only state (no lock needed: only the
	// worker's own loop touches it).
	windowStart time.Time
	stats       []WindowStats
	accBuffers  [][]float64
	lastSnap    FatigueSnapshot
}

// NewAnalysisWorker builds a worker for one device. channels is the
// device's channel configuration in channel-ID order; channel 0 and 1
// must exist and be enabled for directional damage to be computed.
func NewAnalysisWorker(
	device, displayName string,
	fsEff float64,
	logIntervalSec float64,
	disp DispMethod,
	channels []ChannelConfig,
	damage *DamageLogger,
	csv *CSVLog,
	pub AnalysisPublisher,
	dirParm DirectionalParams,
	logger *log.Logger,
) *AnalysisWorker {
	if logger == nil {
		logger = log.Default()
	}
	if logIntervalSec <= 0 {
		logIntervalSec = DefaultLogIntervalSec
	}
	return &AnalysisWorker{
		device:      device,
		displayName: displayName,
		fsEff:       fsEff,
		logInterval: time.Duration(logIntervalSec * float64(time.Second)),
		disp:        disp,
		channels:    channels,
		queue:       newChunkQueue(3),
		damage:      damage,
		csv:         csv,
		pub:         pub,
		dirParm:     dirParm,
		log:         logger.With("device", device),
		stats:       make([]WindowStats, len(channels)),
		accBuffers:  make([][]float64, len(channels)),
	}
}

// Submit enqueues a decimated chunk for analysis, dropping the oldest
// queued chunk on overflow.
func (w *AnalysisWorker) Submit(c Chunk) bool {
	return w.queue.Submit(c)
}

// SetAlarm attaches the GPIO alarm output to evaluate against each
// window's cumulative damage. Optional; a worker with
// no alarm attached simply skips the evaluation.
func (w *AnalysisWorker) SetAlarm(alarm *Alarm) {
	w.alarm = alarm
}

// LastSnapshot returns the most recently completed window's fatigue
// snapshot, the zero value if no window has closed yet.
func (w *AnalysisWorker) LastSnapshot() FatigueSnapshot {
	return w.lastSnap
}

// Start begins the worker's consume loop on its own goroutine.
func (w *AnalysisWorker) Start() {
	w.windowStart = time.Now()
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop()
}

// Stop signals the worker loop to exit and waits up to joinTimeout.
func (w *AnalysisWorker) Stop(joinTimeout time.Duration) {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	w.queue.Close()
	select {
	case <-w.doneCh:
	case <-time.After(joinTimeout):
		w.log.Warn("analysis worker did not stop within join timeout")
	}
}

func (w *AnalysisWorker) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		chunk, ok := w.queue.Get(500 * time.Millisecond)
		if ok {
			w.accumulate(chunk)
		}

		if time.Since(w.windowStart) >= w.logInterval {
			w.closeWindow(time.Now())
		}
	}
}

// accumulate folds one delivered chunk into the running window
// statistics and per-channel raw buffers.
func (w *AnalysisWorker) accumulate(c Chunk) {
	for ch, samples := range c.Channels {
		if ch >= len(w.stats) {
			break
		}
		w.stats[ch].Update(samples)
		w.accBuffers[ch] = append(w.accBuffers[ch], samples...)
	}
}

// closeWindow runs the window-boundary sequence. Analysis errors are
// caught and logged, and the window is skipped, but accumulators are
// always cleared via defer.
func (w *AnalysisWorker) closeWindow(now time.Time) {
	start := w.windowStart
	w.windowStart = now
	defer w.resetAccumulators()

	if err := w.runWindow(start, now); err != nil {
		w.log.Error("analysis window failed, skipping", "err", err)
	}
}

func (w *AnalysisWorker) runWindow(start, end time.Time) error {
	ux, uy := w.channelDisplacement(0), w.channelDisplacement(1)

	directional := ComputeDirectionalDamage(ux, uy, w.dirParm)

	cum, err := w.damage.Update(directional, end)
	if err != nil {
		return shmerr.New(shmerr.PersistenceError, "analysisworker.window", err)
	}
	if w.alarm != nil {
		w.alarm.Evaluate(cum)
	}

	dispStats := make([]DisplacementStats, len(w.channels))
	for ch := range w.channels {
		dispStats[ch] = DisplacementStatsOf(w.channelDisplacement(ch))
	}

	statRows := w.buildStatRows(end, dispStats)
	fatigueRow := FatigueRow{Timestamp: end, Dmax: directional.Dmax, PhiDeg: directional.PhiDeg, SaMax: directional.SaMax}
	if w.csv != nil {
		if err := w.csv.WriteWindow(statRows, fatigueRow); err != nil {
			w.log.Error("csv write failed", "err", err)
		}
	}

	w.lastSnap = FatigueSnapshot{
		WindowStart: start,
		Dmax:        directional.Dmax,
		PhiDeg:      directional.PhiDeg,
		SaMax:       directional.SaMax,
		DPhi:        directional.DPhi,
		PhiDegList:  directional.PhiDegList,
		Cumulative:  cum,
	}

	if w.pub != nil {
		payload := w.buildIoTPayload(end, statRows, w.lastSnap)
		if err := w.pub.Publish(w.displayName+"/stream/vib", payload); err != nil {
			w.log.Warn("iot publish failed", "err", err)
		}
	}

	return nil
}

// channelDisplacement converts channel ch's accumulated raw window to
// displacement at fs_eff, applying the per-channel g-to-m/s² unit
// conversion step 2.
func (w *AnalysisWorker) channelDisplacement(ch int) []float64 {
	if ch >= len(w.accBuffers) {
		return nil
	}
	unit := ""
	if ch < len(w.channels) {
		unit = w.channels[ch].Unit
	}
	return AccelToDisplacement(w.accBuffers[ch], w.fsEff, w.disp, unit)
}

func (w *AnalysisWorker) buildStatRows(ts time.Time, dispStats []DisplacementStats) []StatRow {
	var rows []StatRow
	for ch, cfg := range w.channels {
		if !cfg.Enabled || ch >= len(w.stats) || w.stats[ch].Count == 0 {
			continue
		}
		d := DisplacementStats{}
		if ch < len(dispStats) {
			d = dispStats[ch]
		}
		rows = append(rows, StatRow{
			Timestamp: ts,
			Channel:   cfg.ID,
			AccMax:    w.stats[ch].Max,
			AccMin:    w.stats[ch].Min,
			AccRMS:    w.stats[ch].RMS(),
			DispMax:   d.Max,
			DispMin:   d.Min,
			DispRMS:   d.RMS,
		})
	}
	return rows
}

func (w *AnalysisWorker) buildIoTPayload(ts time.Time, stats []StatRow, snap FatigueSnapshot) iot.Payload {
	channels := make([]map[string]any, 0, len(stats))
	for _, s := range stats {
		channels = append(channels, map[string]any{
			"channel":  s.Channel,
			"acc_max":  s.AccMax,
			"acc_min":  s.AccMin,
			"acc_rms":  s.AccRMS,
			"disp_max": s.DispMax,
			"disp_min": s.DispMin,
			"disp_rms": s.DispRMS,
		})
	}
	return iot.Payload{
		"device":      w.device,
		"timestamp":   ts.UTC().Format(time.RFC3339),
		"channels":    channels,
		"d_max":       snap.Dmax,
		"phi_deg":     snap.PhiDeg,
		"sa_max":      snap.SaMax,
		"d_cum_max":   snap.Cumulative.DCumMax,
		"phi_deg_cum": snap.Cumulative.PhiDegCum,
	}
}

// resetAccumulators clears window statistics and raw sample buffers
//, always run even when the window failed.
func (w *AnalysisWorker) resetAccumulators() {
	for i := range w.stats {
		w.stats[i] = WindowStats{}
	}
	for i := range w.accBuffers {
		w.accBuffers[i] = w.accBuffers[i][:0]
	}
}
