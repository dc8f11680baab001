// Package monitor implements the Worker Monitor (§4.D): it owns exactly
// one Worker, subscribes that worker's demand to every local Queue
// Producer at once (so the worker stays utilized regardless of which
// producer's queue has work), and is the component that observes a
// worker's crash and drives failure handling and respawn.
//
// Grounded on the supervisor-restart shape of worker/cmd/worker/main.go's
// shutdown sequencing (consumer stop -> pool drain -> channel close,
// inverted here into a lease-then-release lifecycle) and on
// other_examples/53aa0a42_Distortions81-M45-goPool/job_subscribe.go's
// subscribe/notify loop for the one-event-in, one-event-out shape a single
// worker goroutine has with its subscribed producers.
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/audit"
	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/failuremode"
	"github.com/shovelend/pond/internal/metrics"
	"github.com/shovelend/pond/internal/queueproducer"
	"github.com/shovelend/pond/internal/registry"
	"github.com/shovelend/pond/internal/worker"
)

// ReplySink receives a completed job that carries a reply address
// (job.From != nil), handed off immediately after the job is acked.
type ReplySink interface {
	Deliver(job *domain.Job)
}

// Producer is the subset of *queueproducer.Producer a Monitor drives.
type Producer interface {
	ID() string
	Demand(ctx context.Context, consumerID string, ch chan<- queueproducer.Delivered, n int) error
	Ack(ctx context.Context, job *domain.Job) error
	Nack(ctx context.Context, job *domain.Job) error
}

// Monitor owns one Worker and leases jobs to it from every local producer
// of its pool, one at a time.
type Monitor struct {
	id        string
	pool      domain.PoolID
	reg       *registry.Registry
	producers []Producer

	newModule  func() worker.UserModule
	moduleArgs any

	failureMode     failuremode.FailureMode
	failureModeArgs any
	replySink       ReplySink
	auditStore      audit.Store // optional (§ supplemented audit trail)

	initRetryDelay time.Duration
	logger         *zap.Logger

	busy atomic.Bool
}

// Busy reports whether this monitor's worker currently holds a job (§4.E:
// status's workers.busy count is "monitors whose current job is non-null").
func (m *Monitor) Busy() bool { return m.busy.Load() }

// Config collects the dependencies a Monitor needs.
type Config struct {
	ID              string
	Pool            domain.PoolID
	Registry        *registry.Registry
	Producers       []Producer
	NewModule       func() worker.UserModule
	ModuleArgs      any
	FailureMode     failuremode.FailureMode
	FailureModeArgs any
	ReplySink       ReplySink   // optional
	AuditStore      audit.Store // optional
	InitRetryDelay  time.Duration
	Logger          *zap.Logger
}

// New builds a Monitor from cfg.
func New(cfg Config) *Monitor {
	if cfg.InitRetryDelay <= 0 {
		cfg.InitRetryDelay = 5 * time.Second
	}
	return &Monitor{
		id:              cfg.ID,
		pool:            cfg.Pool,
		reg:             cfg.Registry,
		producers:       cfg.Producers,
		newModule:       cfg.NewModule,
		moduleArgs:      cfg.ModuleArgs,
		failureMode:     cfg.FailureMode,
		failureModeArgs: cfg.FailureModeArgs,
		replySink:       cfg.ReplySink,
		auditStore:      cfg.AuditStore,
		initRetryDelay:  cfg.InitRetryDelay,
		logger:          cfg.Logger,
	}
}

func (m *Monitor) producerByID(id string) Producer {
	for _, p := range m.producers {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// Run subscribes demand=1 to every local producer and dispatches jobs to
// a Worker until ctx is cancelled. It returns nil on clean shutdown; a
// supervisor (internal/supervision) should restart it if it ever returns
// a non-nil error.
func (m *Monitor) Run(ctx context.Context) error {
	m.reg.Join(m.pool, domain.RoleWorkerMonitors, registry.Member{ID: m.id, Value: m})
	defer m.reg.Leave(m.pool, domain.RoleWorkerMonitors, m.id)

	jobsIn := make(chan queueproducer.Delivered, len(m.producers))
	for _, p := range m.producers {
		if err := p.Demand(ctx, m.id, jobsIn, 1); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		w, err := worker.New(m.newModule(), m.moduleArgs)
		if err != nil {
			m.logger.Error("monitor: worker module init failed, retrying",
				zap.String("pool", m.pool.String()), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.initRetryDelay):
				continue
			}
		}

		if shutdown := m.runWorker(ctx, w, jobsIn); shutdown {
			return nil
		}
		// Worker crashed: loop around and spawn a fresh one.
	}
}

// runWorker dispatches jobs to w until it crashes (returns false, so Run
// respawns) or ctx is cancelled (returns true, clean shutdown).
func (m *Monitor) runWorker(ctx context.Context, w *worker.Worker, jobsIn chan queueproducer.Delivered) (shutdown bool) {
	for {
		select {
		case <-ctx.Done():
			return true
		case delivered := <-jobsIn:
			m.busy.Store(true)
			metrics.WorkersBusy.WithLabelValues(m.pool.String()).Inc()
			crashed := m.handleJob(ctx, w, delivered)
			m.busy.Store(false)
			metrics.WorkersBusy.WithLabelValues(m.pool.String()).Dec()

			if crashed {
				m.drainAndFail(ctx, jobsIn, delivered.ProducerID)
				return false
			}

			if p := m.producerByID(delivered.ProducerID); p != nil {
				if err := p.Demand(ctx, m.id, jobsIn, 1); err != nil {
					m.logger.Warn("monitor: failed to renew demand", zap.Error(err))
				}
			}
		}
	}
}

type dispatchOutcome struct {
	result   *domain.Result
	panicVal any
}

// handleJob runs one dispatch in its own goroutine so that a task
// "crash" (§4.C) — a panic, including the one MethodFunc errors are
// converted into — terminates only that goroutine, not the monitor's own.
// This is the Go-level stand-in for "the worker process died": the
// monitor observes it via recover() the same way a supervisor observes an
// Erlang process exit, instead of an OS-level process boundary.
func (m *Monitor) handleJob(ctx context.Context, w *worker.Worker, delivered queueproducer.Delivered) (crashed bool) {
	job := delivered.Job
	job.By = m.id

	done := make(chan dispatchOutcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- dispatchOutcome{panicVal: r}
			}
		}()
		done <- dispatchOutcome{result: w.Dispatch(job)}
	}()

	o := <-done
	metrics.JobDuration.WithLabelValues(m.pool.String()).Observe(time.Since(start).Seconds())

	if o.panicVal != nil {
		metrics.JobsTotal.WithLabelValues(m.pool.String(), "crashed").Inc()
		m.logger.Error("monitor: worker crashed dispatching job",
			zap.String("pool", m.pool.String()),
			zap.String("job_id", job.ID.String()),
			zap.String("method", job.Task.Method),
			zap.Any("panic", o.panicVal),
		)
		job.Result = &domain.Result{Err: fmt.Sprint(o.panicVal), CompletedAt: time.Now().UTC()}
		if p := m.producerByID(delivered.ProducerID); p != nil {
			if err := p.Nack(ctx, job); err != nil {
				m.logger.Error("monitor: nack after crash failed", zap.Error(err))
			}
		}
		m.runFailureModeDetached(ctx, job)
		m.recordAudit(ctx, job, "crashed")
		return true
	}

	metrics.JobsTotal.WithLabelValues(m.pool.String(), "ok").Inc()
	job.Result = o.result
	m.recordAudit(ctx, job, "ok")
	if p := m.producerByID(delivered.ProducerID); p != nil {
		if err := p.Ack(ctx, job); err != nil {
			m.logger.Error("monitor: ack failed", zap.Error(err))
		}
	}
	if job.From != nil && m.replySink != nil {
		m.replySink.Deliver(job)
	}
	return false
}

// drainAndFail sweeps up any jobs other producers pushed into jobsIn while
// this monitor's single worker was busy, fails each through the failure
// mode, and re-requests demand from every producer whose in-flight unit
// was consumed — the crashed job's producer plus every drained job's
// producer — closing the window where a buffered-but-undelivered job
// would otherwise be silently lost on crash.
func (m *Monitor) drainAndFail(ctx context.Context, jobsIn chan queueproducer.Delivered, crashedProducerID string) {
	toRenew := []string{crashedProducerID}

drain:
	for {
		select {
		case d := <-jobsIn:
			if p := m.producerByID(d.ProducerID); p != nil {
				if err := p.Nack(ctx, d.Job); err != nil {
					m.logger.Error("monitor: nack during drain failed", zap.Error(err))
				}
			}
			m.runFailureModeDetached(ctx, d.Job)
			toRenew = append(toRenew, d.ProducerID)
		default:
			break drain
		}
	}

	for _, id := range toRenew {
		if p := m.producerByID(id); p != nil {
			if err := p.Demand(ctx, m.id, jobsIn, 1); err != nil {
				m.logger.Warn("monitor: failed to renew demand after crash", zap.Error(err))
			}
		}
	}
}

func (m *Monitor) recordAudit(ctx context.Context, job *domain.Job, outcome string) {
	if m.auditStore == nil {
		return
	}
	if err := m.auditStore.RecordCompleted(ctx, m.pool, job, outcome); err != nil {
		m.logger.Warn("monitor: audit record failed",
			zap.String("pool", m.pool.String()), zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// runFailureModeDetached spawns the failure-mode handler on its own
// goroutine (§4.D's "spawn a detached task"; §9: "so the supervisor restart
// path is not blocked"). Without this, a slow handler (e.g. RedisFailureMode's
// round-trip) would run inline in the same goroutine that immediately
// respawns a worker and resumes dispatching, head-of-line blocking every
// job behind it. The detached call uses a context no longer tied to the
// monitor's own lifetime, since a failure handler started before shutdown
// should still get to run rather than being cancelled mid-flight.
func (m *Monitor) runFailureModeDetached(ctx context.Context, job *domain.Job) {
	detached := context.WithoutCancel(ctx)
	go m.runFailureMode(detached, job)
}

func (m *Monitor) runFailureMode(ctx context.Context, job *domain.Job) {
	if m.failureMode == nil {
		return
	}
	if err := m.failureMode.HandleFailure(ctx, m.pool, job, m.failureModeArgs); err != nil {
		metrics.FailureModeInvocations.WithLabelValues(m.pool.String(), "error").Inc()
		m.logger.Error("monitor: failure mode handler errored",
			zap.String("pool", m.pool.String()), zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	metrics.FailureModeInvocations.WithLabelValues(m.pool.String(), "ok").Inc()
}
