package autostroke

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

const (
	// MaxBPM is the fastest cycle rate accepted. Faster requests are clamped down to it.
	MaxBPM = 500.0

	// MinSharpness and MaxSharpness keep the thrust rise strictly inside the cycle
	MinSharpness = 0.01
	MaxSharpness = 0.99

	// MinSplinePoints is the smallest control point sequence that describes a closed curve
	MinSplinePoints = 2
)

// Config is the full motion configuration. It is replaced as a whole; the only partial
// update is a PauseRequest, which composes into a new Config.
type Config struct {
	BPM            float64   `json:"bpm" yaml:"bpm" jsonschema:"exclusiveMinimum=0,maximum=500,description=Motion cycles per minute"`
	Depth          float64   `json:"depth" yaml:"depth" jsonschema:"minimum=0,maximum=1,description=Fraction of travel used"`
	DepthTop       bool      `json:"depth_top" yaml:"depth_top" jsonschema:"description=Anchor the used range at 0 instead of 1"`
	Reversed       bool      `json:"reversed" yaml:"reversed" jsonschema:"description=Traverse each cycle backwards"`
	WaveFunc       WaveFunc  `json:"wave_func" yaml:"wave_func"`
	Sharpness      float64   `json:"sharpness" yaml:"sharpness" jsonschema:"minimum=0.01,maximum=0.99,description=Thrust rise fraction"`
	SplinePoints   []float64 `json:"spline_points" yaml:"spline_points" jsonschema:"minItems=2"`
	Paused         bool      `json:"paused" yaml:"paused"`
	PausedPosition float64   `json:"paused_position" yaml:"paused_position" jsonschema:"minimum=0,maximum=1"`
}

// DefaultConfig is used when nothing has been persisted yet
func DefaultConfig() Config {
	return Config{
		BPM:            36,
		Depth:          1,
		DepthTop:       false,
		Reversed:       false,
		WaveFunc:       WaveFuncSine,
		Sharpness:      0.3,
		SplinePoints:   []float64{0, 1},
		Paused:         false,
		PausedPosition: 0,
	}
}

// ValidationError describes the first configuration field that could not be accepted
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// Clone returns a copy that shares no memory with c
func (c Config) Clone() Config {
	c.SplinePoints = slices.Clone(c.SplinePoints)
	return c
}

// Equal compares every field including the spline points
func (c Config) Equal(other Config) bool {
	return c.BPM == other.BPM &&
		c.Depth == other.Depth &&
		c.DepthTop == other.DepthTop &&
		c.Reversed == other.Reversed &&
		c.WaveFunc == other.WaveFunc &&
		c.Sharpness == other.Sharpness &&
		slices.Equal(c.SplinePoints, other.SplinePoints) &&
		c.Paused == other.Paused &&
		c.PausedPosition == other.PausedPosition
}

// Validate rejects values that cannot be clamped into range: non-finite numbers, a
// non-positive bpm, an unknown waveform and malformed spline points.
func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"bpm", c.BPM},
		{"depth", c.Depth},
		{"sharpness", c.Sharpness},
		{"paused_position", c.PausedPosition},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Field: f.name, Value: f.value, Reason: "must be a finite number"}
		}
	}

	if c.BPM <= 0 {
		return &ValidationError{Field: "bpm", Value: c.BPM, Reason: "must be greater than 0"}
	}

	if !slices.Contains(WaveFuncs, c.WaveFunc) {
		return &ValidationError{Field: "wave_func", Value: c.WaveFunc, Reason: "must be one of sine, thrust, spline"}
	}

	if len(c.SplinePoints) < MinSplinePoints {
		return &ValidationError{
			Field:  "spline_points",
			Value:  c.SplinePoints,
			Reason: fmt.Sprintf("requires at least %d points", MinSplinePoints),
		}
	}
	for i, p := range c.SplinePoints {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return &ValidationError{
				Field:  fmt.Sprintf("spline_points[%d]", i),
				Value:  p,
				Reason: "must be between 0 and 1",
			}
		}
	}

	return nil
}

// Normalize validates the Config and returns a copy with bounded fields clamped into range
func (c Config) Normalize() (Config, error) {
	err := c.Validate()
	if err != nil {
		return Config{}, err
	}

	out := c.Clone()
	out.BPM = math.Min(out.BPM, MaxBPM)
	out.Depth = Clamp(out.Depth, 0, 1)
	out.Sharpness = Clamp(out.Sharpness, MinSharpness, MaxSharpness)
	out.PausedPosition = Clamp(out.PausedPosition, 0, 1)

	return out, nil
}

// Clamp bounds v to [low, high]
func Clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}

// configFields are the JSON keys a complete Config carries
var configFields = []string{
	"bpm", "depth", "depth_top", "reversed", "wave_func",
	"sharpness", "spline_points", "paused", "paused_position",
}

// ParseConfig decodes a complete JSON Config and normalizes it. Objects missing a field or
// carrying an unknown one are rejected, since a Config is only ever replaced as a whole.
func ParseConfig(data []byte) (Config, error) {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(data, &fields)
	if err != nil {
		return Config{}, fmt.Errorf("invalid config JSON: %w", err)
	}

	for _, field := range configFields {
		if _, ok := fields[field]; !ok {
			return Config{}, &ValidationError{Field: field, Value: nil, Reason: "missing from partial config"}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid config JSON: %w", err)
	}

	return cfg.Normalize()
}
