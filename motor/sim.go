package motor

import (
	"math"
	"sync"
	"time"
)

// Simulator stands in for a motor. It moves toward the last commanded position at a
// limited speed and reports where it is.
type Simulator struct {
	// MaxSpeed in native units per second. Zero moves instantly.
	MaxSpeed float64

	mu       sync.Mutex
	position float64
	target   float64
	last     time.Time
	now      func() time.Time
}

var _ Transport = (*Simulator)(nil)

func NewSimulator(start int32, maxSpeed float64) *Simulator {
	return &Simulator{
		MaxSpeed: maxSpeed,
		position: float64(start),
		target:   float64(start),
		now:      time.Now,
	}
}

func (s *Simulator) Write(position int32, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.update()
	s.target = float64(position)
	return nil
}

func (s *Simulator) ReadFeedback() (Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.update()
	return Feedback{Position: int32(math.Round(s.position)), At: now}, nil
}

func (s *Simulator) update() time.Time {
	now := s.now()
	defer func() { s.last = now }()

	if s.MaxSpeed <= 0 || s.last.IsZero() {
		if s.MaxSpeed <= 0 {
			s.position = s.target
		}
		return now
	}

	step := s.MaxSpeed * now.Sub(s.last).Seconds()
	diff := s.target - s.position
	if math.Abs(diff) <= step {
		s.position = s.target
	} else {
		s.position += math.Copysign(step, diff)
	}
	return now
}
