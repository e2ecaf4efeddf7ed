// Package motor talks to the stroking servo over its serial register protocol.
package motor

import (
	"errors"
	"time"
)

// ErrTimeout is returned when the motor does not answer within the operation timeout
var ErrTimeout = errors.New("timed out waiting for motor response")

// Transport ships position commands to the motor and reads back its position. Both calls
// may block for up to the transport's own timeout.
type Transport interface {
	Write(position int32, velocity float64) error
	ReadFeedback() (Feedback, error)
}

// Feedback is a position reported by the motor in native units
type Feedback struct {
	Position int32
	At       time.Time
}

// TransportError wraps any failure to exchange a frame with the motor
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "motor " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
