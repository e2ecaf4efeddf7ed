package controller

import (
	"math"
	"time"

	"github.com/calvinmclean/autostroke"
)

// Mode is the loop state published with each snapshot. The PauseController moves between
// Running and Paused; Faulted is set by the loop when the failure budget is exhausted.
type Mode int

const (
	ModeRunning Mode = iota
	ModePaused
	ModeFaulted
)

func (m Mode) String() string {
	switch m {
	case ModePaused:
		return "Paused"
	case ModeFaulted:
		return "Faulted"
	default:
		return "Running"
	}
}

// PauseController applies pause requests and tracks the held position while paused.
//
// Requests compose into the ConfigStore, which acts as the single pending slot: the latest
// composed configuration is what the next tick reads. Mode and Held belong to the control
// loop and are only touched from its goroutine.
type PauseController struct {
	store *ConfigStore

	mode Mode
	held float64
}

func NewPauseController(store *ConfigStore) *PauseController {
	cfg := store.load().cfg

	mode := ModeRunning
	if cfg.Paused {
		mode = ModePaused
	}

	return &PauseController{store: store, mode: mode, held: cfg.PausedPosition}
}

// Request applies an absolute set and/or relative adjust of the paused position, and
// optionally changes the paused flag, returning the resulting configuration. Pausing while
// already paused only applies the position fields.
func (p *PauseController) Request(req autostroke.PauseRequest) (autostroke.Config, error) {
	err := req.Validate()
	if err != nil {
		return autostroke.Config{}, err
	}

	return p.store.Update(func(cfg autostroke.Config) (autostroke.Config, error) {
		return req.Apply(cfg), nil
	})
}

// Mode is the state observed by the most recent tick
func (p *PauseController) Mode() Mode {
	return p.mode
}

// advance moves the state machine to match paused and returns the held output. current is
// the shaped value the loop would otherwise output and seeds the hold on Running -> Paused.
// rate bounds how fast the held value moves toward target, in travel per second; zero
// means no limit.
func (p *PauseController) advance(paused bool, target, current, rate float64, dt time.Duration) (float64, bool) {
	if !paused {
		p.mode = ModeRunning
		p.held = current
		return current, false
	}

	p.mode = ModePaused
	p.held = approach(p.held, target, rate, dt)
	return p.held, true
}

// approach moves from toward to at rate units per second for dt. A non-positive rate jumps
// straight to to.
func approach(from, to, rate float64, dt time.Duration) float64 {
	if rate <= 0 {
		return to
	}
	maxStep := rate * dt.Seconds()
	if math.Abs(to-from) <= maxStep {
		return to
	}
	if to > from {
		return from + maxStep
	}
	return from - maxStep
}
