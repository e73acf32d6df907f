package wind

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularMeanDeg_Cardinals(t *testing.T) {
	assert.InDelta(t, 0.0, CircularMeanDeg([]float64{0, 90, 180, 270}), 1e-9)
}

func TestCircularMeanDeg_NearZeroWrap(t *testing.T) {
	assert.InDelta(t, 0.0, CircularMeanDeg([]float64{10, 350}), 1e-9)
}

func TestCRC16_MatchesKnownModbusVector(t *testing.T) {
	// 01 03 00 00 00 0A -> CRC C5 CD (from common Modbus RTU reference tables)
	got := crc16([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})
	assert.Equal(t, []byte{0xC5, 0xCD}, got)
}

type flakySensor struct {
	mu       sync.Mutex
	fail     bool
	reads    int
	connects int
}

func (f *flakySensor) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}
func (f *flakySensor) Close() error { return nil }
func (f *flakySensor) Read() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.fail {
		return Sample{}, errors.New("no data")
	}
	return Sample{Timestamp: time.Now(), SpeedMPS: 5, DirectionDeg: 90}, nil
}

type stubPub struct {
	mu    sync.Mutex
	count int
}

func (s *stubPub) Publish(_ string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func (s *stubPub) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func TestService_PublishesStatsEveryN(t *testing.T) {
	sensor := &flakySensor{}
	pub := &stubPub{}
	svc := NewService(sensor, 0.01, 0.03, pub, "wind/stats", nil)
	svc.Start()
	defer svc.Stop(time.Second)

	deadline := time.After(time.Second)
	for pub.getCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no stats published in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sample, connected := svc.LastSample()
	assert.True(t, connected)
	assert.Equal(t, 90.0, sample.DirectionDeg)
}

func TestService_ReconnectsOnReadFailure(t *testing.T) {
	sensor := &flakySensor{fail: true}
	svc := NewService(sensor, 0.005, 0.01, nil, "wind/stats", nil)
	svc.Start()
	time.Sleep(50 * time.Millisecond)
	svc.Stop(time.Second)

	sensor.mu.Lock()
	defer sensor.mu.Unlock()
	assert.Greater(t, sensor.connects, 1)
}
