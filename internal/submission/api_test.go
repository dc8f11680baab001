package submission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/queueproducer"
	"github.com/shovelend/pond/internal/registry"
	"github.com/shovelend/pond/internal/submission"
)

type fakeProducer struct {
	mu        sync.Mutex
	enqueued  []*domain.Job
	suspended bool
	status    queueproducer.Status
	payloads  [][]byte
}

func (f *fakeProducer) Enqueue(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeProducer) Suspend(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = true
	return nil
}

func (f *fakeProducer) Resume(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspended = false
	return nil
}

func (f *fakeProducer) Status(ctx context.Context) (queueproducer.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeProducer) Filter(ctx context.Context, pred func([]byte) bool) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, p := range f.payloads {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeMonitor struct{ busy bool }

func (f fakeMonitor) Busy() bool { return f.busy }

func setup(t *testing.T) (*submission.API, domain.PoolID, *fakeProducer) {
	t.Helper()
	api, pool, fp, _ := setupWithRegistry(t)
	return api, pool, fp
}

func setupWithRegistry(t *testing.T) (*submission.API, domain.PoolID, *fakeProducer, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	pool := domain.Local("p1")
	reg.Create(pool)
	fp := &fakeProducer{}
	reg.Join(pool, domain.RoleQueues, registry.Member{ID: "q1", Value: fp})
	return submission.New(reg, zap.NewNop()), pool, fp, reg
}

func TestAsyncYieldRoundTrip(t *testing.T) {
	api, pool, fp := setup(t)
	ctx := context.Background()

	job, err := api.Async(ctx, "owner1", pool, domain.Method("inc"), true)
	require.NoError(t, err)
	require.NotNil(t, job.From)
	require.Len(t, fp.enqueued, 1)

	job.Result = &domain.Result{Value: 42}
	api.Deliver(job)

	res, err := api.Yield(ctx, "owner1", job, time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, res.Value)
}

func TestYieldByNonOwnerFails(t *testing.T) {
	api, pool, _ := setup(t)
	ctx := context.Background()

	job, err := api.Async(ctx, "owner1", pool, domain.Method("inc"), true)
	require.NoError(t, err)

	_, err = api.Yield(ctx, "owner2", job, time.Second)
	require.ErrorIs(t, err, domain.ErrOwnerMismatch)
}

func TestYieldOnReplylessJobFails(t *testing.T) {
	api, pool, _ := setup(t)
	ctx := context.Background()

	job, err := api.Async(ctx, "owner1", pool, domain.Method("inc"), false)
	require.NoError(t, err)
	require.Nil(t, job.From)

	_, err = api.Yield(ctx, "owner1", job, time.Second)
	require.ErrorIs(t, err, domain.ErrNoReplyExpected)
}

func TestYieldTimesOutOnNoReply(t *testing.T) {
	api, pool, _ := setup(t)
	ctx := context.Background()

	job, err := api.Async(ctx, "owner1", pool, domain.Method("inc"), true)
	require.NoError(t, err)

	_, err = api.Yield(ctx, "owner1", job, 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrYieldTimeout)
}

func TestSuspendResumeBroadcast(t *testing.T) {
	api, pool, fp := setup(t)
	ctx := context.Background()

	require.NoError(t, api.Suspend(ctx, pool))
	require.True(t, fp.suspended)

	require.NoError(t, api.Resume(ctx, pool))
	require.False(t, fp.suspended)
}

func TestStatusAggregatesQueueAndWorkers(t *testing.T) {
	api, pool, fp, reg := setupWithRegistry(t)
	fp.status = queueproducer.Status{Depth: 5}

	reg.Join(pool, domain.RoleWorkerMonitors, registry.Member{ID: "m1", Value: fakeMonitor{busy: true}})
	reg.Join(pool, domain.RoleWorkerMonitors, registry.Member{ID: "m2", Value: fakeMonitor{busy: false}})

	status, err := api.Status(context.Background(), pool)
	require.NoError(t, err)
	require.Equal(t, 5, status.Queue.Depth)
	require.Equal(t, 2, status.Workers.Total)
	require.Equal(t, 1, status.Workers.Busy)
}

func TestFilterDelegatesToClosestQueue(t *testing.T) {
	api, pool, fp := setup(t)
	fp.payloads = [][]byte{[]byte("keep"), []byte("drop")}

	matches, err := api.Filter(context.Background(), pool, func(p []byte) bool {
		return string(p) == "keep"
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("keep")}, matches)
}

func TestAsyncFailsWithoutAQueue(t *testing.T) {
	reg := registry.New()
	pool := domain.Local("empty")
	reg.Create(pool)
	api := submission.New(reg, zap.NewNop())

	_, err := api.Async(context.Background(), "owner1", pool, domain.Method("inc"), true)
	require.ErrorIs(t, err, domain.ErrNoQueue)
}
