package autostroke

import "math"

// PauseRequest is the partial update accepted by the pause control. Every field is optional.
// Position is applied before Adjust so both can arrive in one request.
type PauseRequest struct {
	Paused   *bool    `json:"paused,omitempty"`
	Position *float64 `json:"position,omitempty"`
	Adjust   *float64 `json:"adjust,omitempty"`
}

// Empty is true when the request carries no fields
func (r PauseRequest) Empty() bool {
	return r.Paused == nil && r.Position == nil && r.Adjust == nil
}

func (r PauseRequest) Validate() error {
	if r.Position != nil && !isFinite(*r.Position) {
		return &ValidationError{Field: "position", Value: *r.Position, Reason: "must be a finite number"}
	}
	if r.Adjust != nil && !isFinite(*r.Adjust) {
		return &ValidationError{Field: "adjust", Value: *r.Adjust, Reason: "must be a finite number"}
	}
	return nil
}

// Apply composes the request into a copy of c. The held position always stays within [0, 1].
func (r PauseRequest) Apply(c Config) Config {
	out := c.Clone()
	if r.Paused != nil {
		out.Paused = *r.Paused
	}
	if r.Position != nil {
		out.PausedPosition = Clamp(*r.Position, 0, 1)
	}
	if r.Adjust != nil {
		out.PausedPosition = Clamp(out.PausedPosition+*r.Adjust, 0, 1)
	}
	return out
}

// Pause builds a request that only changes the paused flag
func Pause(paused bool) PauseRequest {
	return PauseRequest{Paused: &paused}
}

// SetPosition builds a request that sets the held position
func SetPosition(position float64) PauseRequest {
	return PauseRequest{Position: &position}
}

// AdjustPosition builds a request that moves the held position by delta
func AdjustPosition(delta float64) PauseRequest {
	return PauseRequest{Adjust: &delta}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
