package supervision_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/supervision"
)

type flakyComponent struct {
	failuresLeft int32
	runs         int32
}

func (f *flakyComponent) Run(ctx context.Context) error {
	atomic.AddInt32(&f.runs, 1)
	if atomic.AddInt32(&f.failuresLeft, -1) >= 0 {
		return errors.New("transient failure")
	}
	return nil
}

func TestRunWithBackoffRetriesUntilClean(t *testing.T) {
	s := &supervision.Supervisor{Logger: zap.NewNop(), BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	c := &flakyComponent{failuresLeft: 2}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.RunWithBackoff(ctx, "flaky", c)
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&c.runs))
}

type alwaysFails struct{ runs int32 }

func (a *alwaysFails) Run(ctx context.Context) error {
	atomic.AddInt32(&a.runs, 1)
	return errors.New("always fails")
}

func TestRunWithBackoffStopsOnContextCancel(t *testing.T) {
	s := &supervision.Supervisor{Logger: zap.NewNop(), BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	c := &alwaysFails{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.RunWithBackoff(ctx, "always-fails", c)
	require.NoError(t, err)
	require.Greater(t, atomic.LoadInt32(&c.runs), int32(0))
}

func TestScheduleRestartFiresAfterDelay(t *testing.T) {
	s := supervision.New(zap.NewNop())
	done := make(chan struct{})
	s.ScheduleRestart(context.Background(), 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected ScheduleRestart to fire")
	}
}

func TestScheduleRestartSkippedOnCancel(t *testing.T) {
	s := supervision.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fired := make(chan struct{})
	s.ScheduleRestart(ctx, 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("fn should not run once context is already cancelled")
	case <-time.After(50 * time.Millisecond):
	}
}
