package controller

import (
	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/waveform"
)

// DepthShaper places a raw waveform value into the part of the travel selected by depth.
// With Top the used range is [0, depth], otherwise [1-depth, 1].
type DepthShaper struct {
	Depth    float64
	Top      bool
	Reversed bool
}

// NewDepthShaper reads the shaping fields of cfg
func NewDepthShaper(cfg autostroke.Config) DepthShaper {
	return DepthShaper{Depth: cfg.Depth, Top: cfg.DepthTop, Reversed: cfg.Reversed}
}

// Phase applies reversal to the phase before the waveform is evaluated, so asymmetric
// waveforms keep their shape when traversed backwards.
func (d DepthShaper) Phase(x float64) float64 {
	if d.Reversed {
		return waveform.Wrap(1 - x)
	}
	return x
}

// Range is the [low, high] sub-range used for the current depth
func (d DepthShaper) Range() (float64, float64) {
	depth := autostroke.Clamp(d.Depth, 0, 1)
	if d.Top {
		return 0, depth
	}
	return 1 - depth, 1
}

func (d DepthShaper) Shape(y float64) float64 {
	low, high := d.Range()
	return low + autostroke.Clamp(y, 0, 1)*(high-low)
}

// Unshape recovers the raw waveform value for a shaped value. It reports false when the
// shaped value is outside the current range or the range is empty.
func (d DepthShaper) Unshape(shaped float64) (float64, bool) {
	low, high := d.Range()
	if high-low <= 0 || shaped < low || shaped > high {
		return 0, false
	}
	return (shaped - low) / (high - low), true
}
