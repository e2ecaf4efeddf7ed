package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/calvinmclean/autostroke/motor"
)

var errFakeBus = errors.New("no response on bus")

// fakeTransport records writes and can be told to fail or block
type fakeTransport struct {
	mu       sync.Mutex
	writes   []int32
	attempts int
	fail     bool
	position int32
	block    chan struct{}
}

var _ motor.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Write(position int32, _ float64) error {
	f.mu.Lock()
	block := f.block
	f.attempts++
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return &motor.TransportError{Op: "write position", Err: errFakeBus}
	}
	f.writes = append(f.writes, position)
	f.position = position
	return nil
}

func (f *fakeTransport) ReadFeedback() (motor.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return motor.Feedback{}, &motor.TransportError{Op: "read position", Err: errFakeBus}
	}
	return motor.Feedback{Position: f.position, At: time.Now()}, nil
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeTransport) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}
