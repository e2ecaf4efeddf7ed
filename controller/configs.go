package controller

import (
	"log/slog"
	"time"
)

const (
	DefaultTickInterval  = 10 * time.Millisecond
	DefaultFailureBudget = 10

	// feedbackStale is how long a feedback speed estimate is preferred over the commanded one
	feedbackStale = time.Second
)

// Options has the loop-level values that do not belong to the motion configuration
type Options struct {
	// TickInterval is the fixed loop period. It does not depend on the configuration.
	TickInterval time.Duration

	// FailureBudget is the number of consecutive transport failures tolerated before the loop
	// stops emitting commands and holds its position
	FailureBudget int

	// FeedbackEvery reads the motor position after every N successful writes. Zero disables
	// feedback and speed is derived from the commanded trajectory.
	FeedbackEvery int

	// PauseSlewRate limits how fast the held position moves while paused, in travel per
	// second. Zero applies paused_position immediately.
	PauseSlewRate float64

	// DepthSlewRate limits how fast a depth change takes effect, in travel per second.
	// Zero applies it immediately.
	DepthSlewRate float64

	// SyncOnStart reads the motor position before the first tick and continues motion from it
	SyncOnStart bool

	Logger   *slog.Logger
	LogLevel *slog.LevelVar
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.FailureBudget <= 0 {
		o.FailureBudget = DefaultFailureBudget
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "controller")
	return o
}
