package autostroke

import "time"

// State is the snapshot published by the control loop after every tick. A published State
// is never modified again.
type State struct {
	Config  Config `json:"config"`
	Version uint64 `json:"version"`
	Tick    uint64 `json:"tick"`

	// T is the time in seconds since the motion epoch began. It does not advance while paused.
	T       float64 `json:"t"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	ShapedY float64 `json:"shaped_y"`

	Position         int32   `json:"position"`
	FeedbackPosition *int32  `json:"feedback_position,omitempty"`
	Speed            float64 `json:"speed"`

	// Mode is Running, Paused or Faulted
	Mode string `json:"mode"`

	Faulted             bool   `json:"faulted"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`

	UpdatedAt time.Time `json:"updated_at"`
}
