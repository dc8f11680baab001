// Package submission implements the Submission API (§4.E): the only
// surface ordinary callers use — async, yield, suspend, resume, status,
// filter. It also implements monitor.ReplySink, matching completed jobs
// back to whichever Yield call is waiting on them by request id.
//
// Grounded on api/internal/delivery/http/submission_handler.go's
// submit-then-poll shape (a client submits, then separately asks for the
// result), generalized from HTTP-request/response into the in-process
// async/yield pair the spec defines, with owner/request-id matching
// replacing the teacher's job-id-keyed Postgres lookup.
package submission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/audit"
	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/queueproducer"
	"github.com/shovelend/pond/internal/registry"
)

// Producer is the subset of *queueproducer.Producer the Submission API
// drives.
type Producer interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
	Status(ctx context.Context) (queueproducer.Status, error)
	Filter(ctx context.Context, pred func([]byte) bool) ([][]byte, error)
}

// BusyReporter is implemented by *monitor.Monitor; Status uses it to count
// monitors whose current job is non-null (§4.E).
type BusyReporter interface {
	Busy() bool
}

// WorkerStatus is the workers portion of Status's reply (§4.E).
type WorkerStatus struct {
	Total int
	Busy  int
}

// Status is the full reply of the Submission API's status operation.
type Status struct {
	Queue   queueproducer.Status
	Workers WorkerStatus
}

type pendingReply struct {
	owner domain.Owner
	ch    chan *domain.Job
}

// API is the pool-facing Submission API. One instance typically serves an
// entire process; it is safe for concurrent use.
type API struct {
	reg    *registry.Registry
	logger *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingReply

	audit audit.Store // optional (§ supplemented audit trail)
}

// New builds a Submission API over reg.
func New(reg *registry.Registry, logger *zap.Logger) *API {
	return &API{reg: reg, logger: logger, pending: make(map[uuid.UUID]*pendingReply)}
}

// SetAuditStore attaches an optional durable job-history sink; every
// Async call will best-effort record the new job through it.
func (a *API) SetAuditStore(store audit.Store) { a.audit = store }

func (a *API) closestQueue(pool domain.PoolID) (Producer, bool) {
	m, ok := a.reg.Closest(pool, domain.RoleQueues)
	if !ok {
		return nil, false
	}
	p, ok := m.Value.(Producer)
	return p, ok
}

// Async constructs a Job for task and enqueues it via the closest queue
// producer in pool. When reply is true the Job is given a fresh
// (owner, request-id) reply address that Yield can later wait on;
// when false, the job is fire-and-forget (§4.E).
func (a *API) Async(ctx context.Context, owner domain.Owner, pool domain.PoolID, task domain.Task, reply bool) (*domain.Job, error) {
	from := domain.From{}
	if reply {
		from = domain.From{Owner: owner, RequestID: uuid.New()}
	}
	job, err := domain.NewJob(from, task)
	if err != nil {
		return nil, err
	}

	p, ok := a.closestQueue(pool)
	if !ok {
		return nil, domain.ErrNoQueue
	}

	if reply {
		a.mu.Lock()
		a.pending[job.From.RequestID] = &pendingReply{owner: owner, ch: make(chan *domain.Job, 1)}
		a.mu.Unlock()
	}

	if err := p.Enqueue(ctx, job); err != nil {
		if reply {
			a.mu.Lock()
			delete(a.pending, job.From.RequestID)
			a.mu.Unlock()
		}
		return nil, err
	}
	if a.audit != nil {
		if err := a.audit.RecordSubmitted(ctx, pool, job); err != nil {
			a.logger.Warn("submission: audit record failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	return job, nil
}

// Yield waits up to timeout for job's reply. owner must equal
// job.From.Owner (§3 invariant); any other caller gets ErrOwnerMismatch.
// A job enqueued with reply=false has no From and always returns
// ErrNoReplyExpected. On timeout the late reply (if any) is simply
// dropped, per §9's "caller discards stale results".
func (a *API) Yield(ctx context.Context, owner domain.Owner, job *domain.Job, timeout time.Duration) (*domain.Result, error) {
	if job.From == nil {
		return nil, domain.ErrNoReplyExpected
	}
	if owner != job.From.Owner {
		return nil, domain.ErrOwnerMismatch
	}

	a.mu.Lock()
	entry, ok := a.pending[job.From.RequestID]
	a.mu.Unlock()
	if !ok {
		return nil, domain.ErrYieldTimeout
	}
	defer func() {
		a.mu.Lock()
		delete(a.pending, job.From.RequestID)
		a.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case completed := <-entry.ch:
		return completed.Result, nil
	case <-timer.C:
		return nil, domain.ErrYieldTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver implements monitor.ReplySink. It matches job by request id
// against its pending entry, where the reply waits until Yield collects it
// (whether Yield was called before or after the job completed). Yield
// forgets the entry when it returns, so a reply arriving after Yield timed
// out, or for an unknown request id, is simply dropped.
func (a *API) Deliver(job *domain.Job) {
	if job.From == nil {
		return
	}
	a.mu.Lock()
	entry, ok := a.pending[job.From.RequestID]
	a.mu.Unlock()
	if !ok {
		return
	}
	select {
	case entry.ch <- job: // buffered cap 1
	default: // a reply is already waiting; a duplicate delivery is dropped
	}
}

// Suspend broadcasts suspend to every local queue producer in pool (§4.E).
func (a *API) Suspend(ctx context.Context, pool domain.PoolID) error {
	return a.broadcastQueues(ctx, pool, func(p Producer) error { return p.Suspend(ctx) })
}

// Resume broadcasts resume to every local queue producer in pool (§4.E).
func (a *API) Resume(ctx context.Context, pool domain.PoolID) error {
	return a.broadcastQueues(ctx, pool, func(p Producer) error { return p.Resume(ctx) })
}

func (a *API) broadcastQueues(ctx context.Context, pool domain.PoolID, fn func(Producer) error) error {
	members := a.reg.Members(pool, domain.RoleQueues, domain.ScopeLocal)
	var firstErr error
	for _, member := range members {
		p, ok := member.Value.(Producer)
		if !ok {
			continue
		}
		if err := fn(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns the closest queue producer's status plus a worker count
// across every local Worker Monitor in pool (§4.E).
func (a *API) Status(ctx context.Context, pool domain.PoolID) (Status, error) {
	p, ok := a.closestQueue(pool)
	if !ok {
		return Status{}, domain.ErrNoQueue
	}
	qs, err := p.Status(ctx)
	if err != nil {
		return Status{}, err
	}

	monitors := a.reg.Members(pool, domain.RoleWorkerMonitors, domain.ScopeLocal)
	busy := 0
	for _, member := range monitors {
		if br, ok := member.Value.(BusyReporter); ok && br.Busy() {
			busy++
		}
	}
	return Status{Queue: qs, Workers: WorkerStatus{Total: len(monitors), Busy: busy}}, nil
}

// Filter delegates to any one queue producer in pool (§4.E).
func (a *API) Filter(ctx context.Context, pool domain.PoolID, pred func([]byte) bool) ([][]byte, error) {
	p, ok := a.closestQueue(pool)
	if !ok {
		return nil, domain.ErrNoQueue
	}
	return p.Filter(ctx, pred)
}
