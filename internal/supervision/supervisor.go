// Package supervision generalizes the teacher's AMQP reconnect loop into a
// reusable restart-with-backoff primitive, used by cmd/pond to keep Queue
// Producers alive across backend disconnects (§5, §7). Worker Monitors are
// not run under it: a monitor respawns its own crashed worker.
//
// Grounded on worker/internal/delivery/amqp/consumer.go's Start method:
// exponential backoff capped at a maximum delay, re-attempting the failed
// operation until context cancellation.
package supervision

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Restartable is a long-running component a Supervisor can keep alive.
// Run should block until ctx is cancelled (returning nil) or until it hits
// an error it cannot recover from itself (returning non-nil, requesting a
// restart).
type Restartable interface {
	Run(ctx context.Context) error
}

// Supervisor restarts a Restartable with exponential backoff.
type Supervisor struct {
	Logger    *zap.Logger
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// New returns a Supervisor with the teacher's reconnect-loop defaults
// (1s base, 30s cap).
func New(logger *zap.Logger) *Supervisor {
	return &Supervisor{Logger: logger, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// RunWithBackoff runs r.Run, and whenever it returns a non-nil error,
// waits an exponentially increasing delay and runs it again. It returns
// when r.Run returns nil (clean shutdown) or ctx is cancelled.
func (s *Supervisor) RunWithBackoff(ctx context.Context, name string, r Restartable) error {
	for attempt := 0; ; attempt++ {
		err := r.Run(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		delay := backoffDelay(s.BaseDelay, s.MaxDelay, attempt)
		s.Logger.Warn("supervised component exited, restarting",
			zap.String("component", name),
			zap.Error(err),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(max) {
		d = float64(max)
	}
	return time.Duration(d)
}

// ScheduleRestart invokes fn once after delay, unless ctx is cancelled
// first: a one-shot delayed respawn, where a restart loop would be the
// wrong shape. internal/monitor does not use it; a monitor retries a failed
// UserModule.Init after init_retry_secs inside its own Run loop.
func (s *Supervisor) ScheduleRestart(ctx context.Context, delay time.Duration, fn func()) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			fn()
		}
	}()
}
