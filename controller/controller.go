package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/motor"
	"github.com/calvinmclean/autostroke/waveform"
)

// Controller runs the fixed-rate control loop. Each tick it reads the ConfigStore once,
// computes the target position, hands it to the transport worker and publishes a State.
type Controller struct {
	store  *ConfigStore
	pause  *PauseController
	mapper PositionMapper
	worker *transportWorker
	opts   Options
	logger *slog.Logger

	state      atomic.Pointer[autostroke.State]
	clearFault atomic.Bool
	verbose    atomic.Bool
	running    atomic.Bool

	// Everything below is owned by the loop goroutine.

	cfg     autostroke.Config
	version uint64

	// elapsed is the motion time. It only advances while running.
	elapsed time.Duration

	// The raw phase is phaseOrigin at tRef and advances with bpm from there. Both are moved
	// when a live change would otherwise make the stroke jump.
	phaseOrigin float64
	tRef        time.Duration

	x, y     float64
	haveY    bool
	shapedY  float64
	depth    float64
	position int32
	speed    float64
	tick     uint64

	faulted      bool
	invariantErr error

	lastFeedback    *motor.Feedback
	lastFeedbackSeq uint64
	feedbackSpeed   float64
}

// New creates a Controller and publishes its initial State. A nil transport accepts every
// command without sending it anywhere.
func New(store *ConfigStore, transport motor.Transport, mapper PositionMapper, opts Options) (*Controller, error) {
	if store == nil {
		return nil, errors.New("config store is required")
	}
	if mapper.Span() == 0 {
		return nil, errors.New("position mapper has an empty travel range")
	}

	opts = opts.withDefaults()
	if transport == nil {
		transport = noopTransport{}
		opts.FeedbackEvery = 0
	}

	vc := store.load()
	c := &Controller{
		store:   store,
		pause:   NewPauseController(store),
		mapper:  mapper,
		worker:  newTransportWorker(transport, opts.FeedbackEvery, opts.Logger),
		opts:    opts,
		logger:  opts.Logger,
		cfg:     vc.cfg,
		version: vc.version,
		depth:   vc.cfg.Depth,
		shapedY: vc.cfg.PausedPosition,
	}

	c.advance(0, false)

	return c, nil
}

// Store is the ConfigStore read by the loop
func (c *Controller) Store() *ConfigStore {
	return c.store
}

// Config returns the current configuration
func (c *Controller) Config() autostroke.Config {
	return c.store.Get()
}

// Replace validates and installs a complete configuration
func (c *Controller) Replace(cfg autostroke.Config) (autostroke.Config, error) {
	return c.store.Replace(cfg)
}

// Update installs the result of fn applied to the current configuration
func (c *Controller) Update(fn func(autostroke.Config) (autostroke.Config, error)) (autostroke.Config, error) {
	return c.store.Update(fn)
}

// Pause applies a pause control request and returns the resulting configuration
func (c *Controller) Pause(req autostroke.PauseRequest) (autostroke.Config, error) {
	return c.pause.Request(req)
}

// State returns the most recently published snapshot
func (c *Controller) State() autostroke.State {
	s := *c.state.Load()
	s.Config = s.Config.Clone()
	return s
}

// ClearFault lets the loop emit commands again after the failure budget was exhausted.
// It takes effect on the next tick.
func (c *Controller) ClearFault() {
	c.clearFault.Store(true)
}

// Run ticks until ctx is cancelled. The transport worker runs in its own goroutine for the
// same lifetime.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller is already running")
	}
	defer c.running.Store(false)

	if c.opts.SyncOnStart {
		c.syncToMotor()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.worker.run(ctx)
	}()
	defer wg.Wait()

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	c.logger.Info("control loop started", "interval", c.opts.TickInterval, "failure_budget", c.opts.FailureBudget)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("control loop stopped", "ticks", c.tick)
			return nil
		case <-ticker.C:
			c.advance(c.opts.TickInterval, true)
		}
	}
}

// advance runs one tick of length dt. emit is false only while the loop is not running yet.
func (c *Controller) advance(dt time.Duration, emit bool) {
	vc := c.store.load()
	if vc.version != c.version {
		c.applyConfig(vc.cfg, vc.version)
	}
	cfg := c.cfg

	if c.clearFault.Swap(false) && c.faulted {
		c.resetFault("fault cleared")
	}

	status := c.worker.snapshot()
	if !c.faulted && status.failures >= c.opts.FailureBudget {
		c.faulted = true
		c.logger.Error("transport failure budget exhausted, holding position",
			"consecutive_failures", status.failures,
			"error", status.lastErr,
		)
	}

	paused := cfg.Paused || c.faulted
	target := cfg.PausedPosition
	if c.faulted && !cfg.Paused {
		target = c.shapedY
	}

	shaped := c.shapedY
	if !paused {
		c.elapsed += dt
		c.depth = approach(c.depth, cfg.Depth, c.opts.DepthSlewRate, dt)

		shaper := NewDepthShaper(cfg)
		shaper.Depth = c.depth

		c.x = shaper.Phase(c.rawPhase(cfg.BPM))
		y, err := waveform.Generate(cfg.WaveFunc, c.x, cfg.Sharpness, cfg.SplinePoints)
		if err != nil {
			if c.invariantErr == nil {
				c.logger.Warn("waveform failed, holding last position", "error", err)
			}
			c.invariantErr = err
		} else {
			c.invariantErr = nil
			c.y = y
			c.haveY = true
			shaped = shaper.Shape(y)
		}
	}

	shaped, _ = c.pause.advance(paused, target, shaped, c.opts.PauseSlewRate, dt)

	position := c.mapper.ToNative(shaped)
	commanded := 0.0
	if dt > 0 {
		commanded = (float64(position) - float64(c.position)) / dt.Seconds()
	}

	if emit && !c.faulted {
		c.worker.submit(command{position: position, velocity: commanded})
	}

	c.shapedY = shaped
	c.position = position
	c.speed = c.estimateSpeed(status, commanded)
	c.tick++

	if c.verbose.Load() && c.tick%100 == 0 {
		c.logger.Debug("tick", "tick", c.tick, "t", c.elapsed.Seconds(), "x", c.x, "shaped_y", shaped, "position", position)
	}

	c.publish(status)
}

// applyConfig adopts a newly installed configuration, moving the phase origin so the stroke
// continues from where it is instead of jumping
func (c *Controller) applyConfig(next autostroke.Config, version uint64) {
	prev := c.cfg

	if prev.BPM != next.BPM {
		c.rebase(c.rawPhase(prev.BPM))
	}

	if prev.Reversed != next.Reversed {
		c.rebase(waveform.Wrap(1 - c.rawPhase(next.BPM)))
	}

	if !next.Paused && c.haveY && waveformChanged(prev, next) {
		x, err := waveform.FindPhase(next.WaveFunc, c.y, next.Sharpness, next.SplinePoints)
		if err == nil {
			c.rebase(NewDepthShaper(next).Phase(x))
		}
	}

	c.cfg = next
	c.version = version

	if c.faulted {
		c.resetFault("configuration changed")
	}
}

func (c *Controller) rawPhase(bpm float64) float64 {
	return waveform.Wrap(c.phaseOrigin + (c.elapsed-c.tRef).Seconds()*bpm/60)
}

func (c *Controller) rebase(raw float64) {
	c.phaseOrigin = raw
	c.tRef = c.elapsed
}

func (c *Controller) resetFault(reason string) {
	c.faulted = false
	c.worker.resetFailures()
	c.logger.Info("resuming motor commands", "reason", reason)
}

func (c *Controller) estimateSpeed(status transportStatus, commanded float64) float64 {
	if status.feedback != nil && status.feedbackSeq != c.lastFeedbackSeq {
		if c.lastFeedback != nil {
			c.feedbackSpeed = c.mapper.Speed(*c.lastFeedback, *status.feedback)
		}
		fb := *status.feedback
		c.lastFeedback = &fb
		c.lastFeedbackSeq = status.feedbackSeq
	}

	if c.lastFeedback != nil && time.Since(c.lastFeedback.At) < feedbackStale {
		return c.feedbackSpeed
	}
	return commanded
}

func (c *Controller) publish(status transportStatus) {
	mode := c.pause.Mode()
	if c.faulted {
		mode = ModeFaulted
	}

	s := &autostroke.State{
		Config:              c.cfg.Clone(),
		Version:             c.version,
		Tick:                c.tick,
		T:                   c.elapsed.Seconds(),
		X:                   c.x,
		Y:                   c.y,
		ShapedY:             c.shapedY,
		Position:            c.position,
		Speed:               c.speed,
		Mode:                mode.String(),
		Faulted:             c.faulted,
		ConsecutiveFailures: status.failures,
		UpdatedAt:           time.Now(),
	}

	switch {
	case c.invariantErr != nil:
		s.LastError = c.invariantErr.Error()
	case status.lastErr != nil:
		s.LastError = status.lastErr.Error()
	}

	if c.lastFeedback != nil {
		p := c.lastFeedback.Position
		s.FeedbackPosition = &p
	}

	c.state.Store(s)
}

// syncToMotor reads the motor position once and continues motion from it
func (c *Controller) syncToMotor() {
	fb, err := c.worker.transport.ReadFeedback()
	if err != nil {
		c.logger.Warn("unable to read motor position, starting from the configured phase", "error", err)
		return
	}
	if fb.At.IsZero() {
		fb.At = time.Now()
	}

	shaped := autostroke.Clamp(c.mapper.FromNative(fb.Position), 0, 1)
	c.shapedY = shaped
	c.pause.held = shaped
	c.lastFeedback = &fb

	shaper := NewDepthShaper(c.cfg)
	y, ok := shaper.Unshape(shaped)
	if ok && !c.cfg.Paused {
		x, err := waveform.FindPhase(c.cfg.WaveFunc, y, c.cfg.Sharpness, c.cfg.SplinePoints)
		if err == nil {
			c.rebase(shaper.Phase(x))
			c.logger.Info("synced waveform to motor position", "position", fb.Position, "x", x)
		}
	}

	c.advance(0, false)
}

// Debug formats a one-line summary of the published State
func (c *Controller) Debug() string {
	s := c.state.Load()
	return fmt.Sprintf("[%.2fs] %s wave=%s bpm=%.1f x=%.3f y=%.3f shaped_y=%.3f pos=%d speed=%.0f failures=%d",
		s.T, s.Mode, s.Config.WaveFunc, s.Config.BPM, s.X, s.Y, s.ShapedY, s.Position, s.Speed, s.ConsecutiveFailures)
}

// Verbose increases logging
func (c *Controller) Verbose() {
	c.verbose.Store(true)
	if c.opts.LogLevel != nil {
		c.opts.LogLevel.Set(slog.LevelDebug)
	}
	c.logger.Info("set verbose mode")
}

func waveformChanged(prev, next autostroke.Config) bool {
	if prev.WaveFunc != next.WaveFunc {
		return true
	}
	switch next.WaveFunc {
	case autostroke.WaveFuncThrust:
		return prev.Sharpness != next.Sharpness
	case autostroke.WaveFuncSpline:
		return !slices.Equal(prev.SplinePoints, next.SplinePoints)
	}
	return false
}
