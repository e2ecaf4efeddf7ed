package controller

import (
	"errors"
	"math"

	"github.com/calvinmclean/autostroke"
	"github.com/calvinmclean/autostroke/motor"
)

// PositionMapper converts between shaped values in [0, 1] and native motor positions with
// a fixed affine transform over the calibrated travel range
type PositionMapper struct {
	Min int32
	Max int32
}

// NewPositionMapper requires a non-empty travel range. Min may be larger than Max when the
// motor is mounted inverted.
func NewPositionMapper(posMin, posMax int32) (PositionMapper, error) {
	if posMin == posMax {
		return PositionMapper{}, errors.New("travel range is empty: pos_min equals pos_max")
	}
	return PositionMapper{Min: posMin, Max: posMax}, nil
}

// Span is the signed distance from Min to Max in native units
func (m PositionMapper) Span() float64 {
	return float64(m.Max) - float64(m.Min)
}

func (m PositionMapper) ToNative(shaped float64) int32 {
	return int32(math.Round(float64(m.Min) + autostroke.Clamp(shaped, 0, 1)*m.Span()))
}

// FromNative is the inverse of ToNative. Positions outside the travel range map outside [0, 1].
func (m PositionMapper) FromNative(position int32) float64 {
	return (float64(position) - float64(m.Min)) / m.Span()
}

// Speed estimates native units per second between two feedback samples
func (m PositionMapper) Speed(prev, next motor.Feedback) float64 {
	dt := next.At.Sub(prev.At).Seconds()
	if dt <= 0 {
		return 0
	}
	return (float64(next.Position) - float64(prev.Position)) / dt
}
