package waveform

import (
	"math"

	"github.com/calvinmclean/autostroke"
)

const phaseSearchSteps = 1500

// FindPhase returns the phase at which the waveform comes closest to y. It is used to
// continue motion from the current stroke value after the waveform itself changes.
func FindPhase(wf autostroke.WaveFunc, y, sharpness float64, points []float64) (float64, error) {
	best := 0.0
	bestDiff := math.Inf(1)

	for i := 0; i < phaseSearchSteps; i++ {
		x := float64(i) / phaseSearchSteps
		v, err := Generate(wf, x, sharpness, points)
		if err != nil {
			return 0, err
		}

		diff := math.Abs(v - y)
		if diff < bestDiff {
			best = x
			bestDiff = diff
		}
	}

	return best, nil
}
