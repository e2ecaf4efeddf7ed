package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/calvinmclean/autostroke/motor"
)

type command struct {
	position int32
	velocity float64
}

// transportStatus is what the loop learns from the worker each tick
type transportStatus struct {
	failures    int
	lastErr     error
	feedback    *motor.Feedback
	feedbackSeq uint64
}

// transportWorker owns the motor transport so a slow or failing write only delays the
// command it carries. Commands are single-slot: a newer command replaces one that has not
// been sent yet.
type transportWorker struct {
	transport     motor.Transport
	feedbackEvery int
	logger        *slog.Logger

	pending chan command

	mu     sync.Mutex
	status transportStatus
	writes int
}

func newTransportWorker(t motor.Transport, feedbackEvery int, logger *slog.Logger) *transportWorker {
	return &transportWorker{
		transport:     t,
		feedbackEvery: feedbackEvery,
		logger:        logger,
		pending:       make(chan command, 1),
	}
}

// submit never blocks. It must only be called from the control loop.
func (w *transportWorker) submit(cmd command) {
	select {
	case w.pending <- cmd:
		return
	default:
	}

	// drop the stale command
	select {
	case <-w.pending:
	default:
	}

	select {
	case w.pending <- cmd:
	default:
	}
}

func (w *transportWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.pending:
			w.send(cmd)
		}
	}
}

func (w *transportWorker) send(cmd command) {
	err := w.transport.Write(cmd.position, cmd.velocity)
	if err != nil {
		w.fail(err)
		return
	}

	w.mu.Lock()
	w.writes++
	readFeedback := w.feedbackEvery > 0 && w.writes%w.feedbackEvery == 0
	w.mu.Unlock()

	if !readFeedback {
		w.succeed(nil)
		return
	}

	fb, err := w.transport.ReadFeedback()
	if err != nil {
		w.fail(err)
		return
	}
	if fb.At.IsZero() {
		fb.At = time.Now()
	}
	w.succeed(&fb)
}

func (w *transportWorker) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.failures++
	w.status.lastErr = err
	w.logger.Warn("motor transport failed", "error", err, "consecutive_failures", w.status.failures)
}

func (w *transportWorker) succeed(fb *motor.Feedback) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.status.failures = 0
	w.status.lastErr = nil
	if fb != nil {
		w.status.feedback = fb
		w.status.feedbackSeq++
	}
}

func (w *transportWorker) snapshot() transportStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *transportWorker) resetFailures() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.failures = 0
	w.status.lastErr = nil
}

// noopTransport accepts every command. It is used when no motor is attached.
type noopTransport struct{}

var _ motor.Transport = noopTransport{}

func (noopTransport) Write(int32, float64) error { return nil }

func (noopTransport) ReadFeedback() (motor.Feedback, error) {
	return motor.Feedback{}, motor.ErrTimeout
}
