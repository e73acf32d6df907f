package wind

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// StatsPublisher is the narrow publish surface Service needs; satisfied
// by iot.Publisher (and by test stubs).
type StatsPublisher interface {
	Publish(topic string, payload any) error
}

// Service polls an abstract Sensor on its own goroutine, maintaining a
// sliding window of the last stats_every_n samples and emitting a
// Stats summary every stats_every_n successful reads. All mutable
// state is guarded by one mutex.
type Service struct {
	sensor         Sensor
	sampleInterval time.Duration
	statsEveryN    int
	pub            StatsPublisher
	topic          string
	log            *log.Logger

	mu         sync.Mutex
	connected  bool
	lastSample Sample
	lastStats  Stats
	window     []Sample

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewService builds a Service. sampleIntervalSec and statsIntervalSec
// derive statsEveryN = max(1, round(stats/sample))
func NewService(sensor Sensor, sampleIntervalSec, statsIntervalSec float64, pub StatsPublisher, topic string, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if sampleIntervalSec <= 0 {
		sampleIntervalSec = 1.0
	}
	n := int(statsIntervalSec/sampleIntervalSec + 0.5)
	if n < 1 {
		n = 1
	}
	return &Service{
		sensor:         sensor,
		sampleInterval: time.Duration(sampleIntervalSec * float64(time.Second)),
		statsEveryN:    n,
		pub:            pub,
		topic:          topic,
		log:            logger,
	}
}

// Start begins the polling loop. Start is idempotent if already
// running.
func (s *Service) Start() {
	if s.stopCh != nil {
		return
	}
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
		s.log.Warn("wind service did not stop within join timeout")
	}
	_ = s.sensor.Close()
	s.stopCh = nil
}

// LastSample returns the most recent successfully read sample.
func (s *Service) LastSample() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSample, s.connected
}

// LastStats returns the most recently computed window stats.
func (s *Service) LastStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

func (s *Service) loop() {
	defer close(s.doneCh)

	if err := s.sensor.Connect(); err != nil {
		s.log.Warn("wind sensor initial connect failed", "err", err)
	}

	counter := 0
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		start := time.Now()
		sample, err := s.sensor.Read()
		if err != nil {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			if cerr := s.sensor.Connect(); cerr != nil {
				s.log.Warn("wind sensor reconnect failed", "err", cerr)
			}
		} else {
			s.mu.Lock()
			s.connected = true
			s.lastSample = sample
			s.window = append(s.window, sample)
			if len(s.window) > s.statsEveryN {
				s.window = s.window[len(s.window)-s.statsEveryN:]
			}
			counter++
			var stats Stats
			publish := counter >= s.statsEveryN
			if publish {
				counter = 0
				stats = StatsOf(s.window)
				s.lastStats = stats
			}
			s.mu.Unlock()

			if publish && s.pub != nil {
				_ = s.pub.Publish(s.topic, statsPayload(stats))
			}
		}

		elapsed := time.Since(start)
		sleepFor := s.sampleInterval - elapsed
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

func statsPayload(st Stats) map[string]any {
	return map[string]any{
		"speed_min":          st.SpeedMin,
		"speed_max":          st.SpeedMax,
		"speed_mean":         st.SpeedMean,
		"direction_mean_deg": st.DirectionMeanDeg,
		"n":                  st.Count,
	}
}
