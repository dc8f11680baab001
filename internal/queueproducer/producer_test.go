package queueproducer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/backend/memqueue"
	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/queueproducer"
)

func newProducer(t *testing.T) (*queueproducer.Producer, *memqueue.Backend, context.Context, context.CancelFunc) {
	t.Helper()
	b := memqueue.New()
	p := queueproducer.New("q-test", b, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = p.Run(ctx)
	}()
	t.Cleanup(cancel)
	return p, b, ctx, cancel
}

func mustJob(t *testing.T, method string) *domain.Job {
	t.Helper()
	j, err := domain.NewJob(domain.From{}, domain.Method(method))
	require.NoError(t, err)
	return j
}

func TestNoDeliveryWithoutDemand(t *testing.T) {
	p, _, ctx, _ := newProducer(t)
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "ping")))
	time.Sleep(20 * time.Millisecond)

	status, err := p.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.Depth, "with no outstanding demand the job should sit queued, not be pushed")
}

func TestDemandThenDeliveryRoundTrip(t *testing.T) {
	p, _, ctx, _ := newProducer(t)
	out := make(chan queueproducer.Delivered, 1)
	require.NoError(t, p.Demand(ctx, "monitor-1", out, 1))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "ping")))

	select {
	case d := <-out:
		require.Equal(t, "q-test", d.ProducerID)
		require.Equal(t, "ping", d.Job.Task.Method)
		require.NoError(t, p.Ack(ctx, d.Job))
	case <-time.After(time.Second):
		t.Fatal("expected a delivery within 1s")
	}
}

func TestBackpressureOnlyOneOutstandingPerDemandUnit(t *testing.T) {
	p, _, ctx, _ := newProducer(t)
	out := make(chan queueproducer.Delivered, 4)
	require.NoError(t, p.Demand(ctx, "monitor-1", out, 1))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "a")))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "b")))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "c")))

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected first delivery")
	}

	select {
	case d := <-out:
		t.Fatalf("unexpected second delivery without further demand: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}

	status, err := p.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.Depth, "two jobs should remain queued, awaiting further demand")
}

func TestAdditionalDemandUnlocksNextDelivery(t *testing.T) {
	p, _, ctx, _ := newProducer(t)
	out := make(chan queueproducer.Delivered, 4)
	require.NoError(t, p.Demand(ctx, "monitor-1", out, 1))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "a")))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "b")))

	var first queueproducer.Delivered
	select {
	case first = <-out:
	case <-time.After(time.Second):
		t.Fatal("expected first delivery")
	}
	require.NoError(t, p.Ack(ctx, first.Job))
	require.NoError(t, p.Demand(ctx, "monitor-1", out, 1))

	select {
	case d := <-out:
		require.Equal(t, "b", d.Job.Task.Method)
	case <-time.After(time.Second):
		t.Fatal("expected second delivery after renewed demand")
	}
}

func TestSuspendNacksInFlightAndBlocksNewDelivery(t *testing.T) {
	p, _, ctx, _ := newProducer(t)
	out := make(chan queueproducer.Delivered, 4)
	require.NoError(t, p.Demand(ctx, "monitor-1", out, 1))
	require.NoError(t, p.Suspend(ctx))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "a")))

	select {
	case d := <-out:
		t.Fatalf("expected no delivery while suspended, got %+v", d)
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, p.Resume(ctx))
	select {
	case d := <-out:
		require.Equal(t, "a", d.Job.Task.Method)
	case <-time.After(time.Second):
		t.Fatal("expected delivery once resumed")
	}
}

func TestFilterMatchesPendingPayloads(t *testing.T) {
	p, _, ctx, _ := newProducer(t)
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "keep")))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "drop")))
	time.Sleep(20 * time.Millisecond)

	matches, err := p.Filter(ctx, func(payload []byte) bool {
		job, err := domain.UnmarshalJob(payload)
		return err == nil && job.Task.Method == "keep"
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestNackRequeuesForRedelivery(t *testing.T) {
	p, _, ctx, _ := newProducer(t)
	out := make(chan queueproducer.Delivered, 4)
	require.NoError(t, p.Demand(ctx, "monitor-1", out, 1))
	require.NoError(t, p.Enqueue(ctx, mustJob(t, "a")))

	var first queueproducer.Delivered
	select {
	case first = <-out:
	case <-time.After(time.Second):
		t.Fatal("expected first delivery")
	}
	require.NoError(t, p.Nack(ctx, first.Job))
	require.NoError(t, p.Demand(ctx, "monitor-1", out, 1))

	select {
	case redelivered := <-out:
		require.Equal(t, "a", redelivered.Job.Task.Method)
	case <-time.After(time.Second):
		t.Fatal("expected nacked job to be redelivered")
	}
}
