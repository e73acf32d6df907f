package wind

import (
	"math"
	"math/rand"
	"time"
)

// SimSensor is a simulated wind sensor: a bounded random walk on speed
// and direction, reproducible from its seed, plus a slow periodic
// component that follows elapsed wall-clock time.
type SimSensor struct {
	rng       *rand.Rand
	speed     float64
	direction float64
	start     time.Time
}

// NewSimSensor builds a simulator seeded by seed for reproducibility.
func NewSimSensor(seed int64) *SimSensor {
	return &SimSensor{
		rng:       rand.New(rand.NewSource(seed)),
		speed:     5.0,
		direction: 90.0,
		start:     time.Now(),
	}
}

// Connect always succeeds; there is no physical device to dial.
func (s *SimSensor) Connect() error { return nil }

// Close is a no-op.
func (s *SimSensor) Close() error { return nil }

// Read advances the random walk and returns one sample.
func (s *SimSensor) Read() (Sample, error) {
	now := time.Now()
	t := now.Sub(s.start).Seconds()

	s.speed += s.rng.NormFloat64() * 0.15
	s.speed += 0.05 * math.Sin(t/15.0)
	s.speed = clamp(s.speed, 0.0, 35.0)

	s.direction += s.rng.NormFloat64() * 1.5
	s.direction += 1.0 * math.Sin(t/60.0)
	s.direction = wrapDeg(s.direction)

	return Sample{Timestamp: now, SpeedMPS: s.speed, DirectionDeg: s.direction}, nil
}
