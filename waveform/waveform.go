// Package waveform maps a phase within one motion cycle to a raw stroke value in [0, 1].
//
// Every waveform is periodic in the phase: the value at x = 0 matches the value
// approaching x = 1, so consecutive cycles join without a seam.
package waveform

import (
	"errors"
	"fmt"
	"math"

	"github.com/calvinmclean/autostroke"
)

// ErrTooFewPoints is returned when a spline is evaluated with fewer than two control points
var ErrTooFewPoints = errors.New("spline requires at least 2 control points")

// Generate evaluates the selected waveform at phase x. Phases outside [0, 1) are wrapped.
// Spline output is clamped to [0, 1]; use CatmullRom directly for the raw curve.
func Generate(wf autostroke.WaveFunc, x, sharpness float64, points []float64) (float64, error) {
	x = Wrap(x)

	switch wf {
	case autostroke.WaveFuncSine:
		return Sine(x), nil
	case autostroke.WaveFuncThrust:
		return Thrust(x, sharpness), nil
	case autostroke.WaveFuncSpline:
		y, err := CatmullRom(points, x)
		if err != nil {
			return 0, err
		}
		return autostroke.Clamp(y, 0, 1), nil
	default:
		return 0, fmt.Errorf("unsupported wave_func: %v", wf)
	}
}

// Sine is a raised cosine: 0 at the start of the cycle and 1 at its middle
func Sine(x float64) float64 {
	return (1 - math.Cos(2*math.Pi*x)) / 2
}

// Thrust rises from 0 to 1 over the first sharpness fraction of the cycle and falls back
// over the rest. Both edges use smootherstep so each is monotone with zero slope at its
// ends. Lower sharpness means a faster thrust.
func Thrust(x, sharpness float64) float64 {
	rise := autostroke.Clamp(sharpness, autostroke.MinSharpness, autostroke.MaxSharpness)
	if x < rise {
		return smootherstep(x / rise)
	}
	return 1 - smootherstep((x-rise)/(1-rise))
}

func smootherstep(t float64) float64 {
	t = autostroke.Clamp(t, 0, 1)
	return t * t * t * (t*(6*t-15) + 10)
}

// Wrap returns the fractional part of x in [0, 1)
func Wrap(x float64) float64 {
	x -= math.Floor(x)
	if x >= 1 {
		return 0
	}
	return x
}
