// Package queueproducer implements the Queue Producer (§4.B): it owns a
// durable backend connection and emits jobs downstream only in response to
// demand, via the Idle / Subscribed / Over-delivery state machine described
// in spec.md §4.B.
//
// Grounded on worker/internal/delivery/amqp/consumer.go's single-goroutine,
// select-driven event loop (one goroutine owns the channel, loops until
// ctx/closeCh fires), generalized from "autoack after dispatch" to the
// explicit demand-counted subscribe/cancel protocol the spec mandates.
package queueproducer

import (
	"context"

	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/backend"
	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/metrics"
)

// Delivered is a Job handed downstream together with the identity of the
// producer that emitted it, so a Worker Monitor can later ask that specific
// producer for more demand.
type Delivered struct {
	Job        *domain.Job
	ProducerID string
}

// Status is the synchronous snapshot returned by Status (§4.B).
type Status struct {
	Depth     int
	Suspended bool
}

type subscriberDemand struct {
	consumerID string
	ch         chan<- Delivered
}

type enqueueReq struct{ job *domain.Job }
type demandReq struct {
	consumerID string
	ch         chan<- Delivered
	n          int
}
type ackReq struct{ job *domain.Job }
type nackReq struct{ job *domain.Job }
type statusReq struct{ resp chan Status }
type filterReq struct {
	pred func([]byte) bool
	resp chan filterResp
}
type filterResp struct {
	payloads [][]byte
	err      error
}

// Producer is a single-goroutine event loop over one durable backend
// connection. All public methods are asynchronous message sends into that
// loop except Status and Filter, which wait for a synchronous reply.
type Producer struct {
	id      string
	backend backend.Backend
	logger  *zap.Logger

	enqueueCh chan enqueueReq
	demandCh  chan demandReq
	ackCh     chan ackReq
	nackCh    chan nackReq
	suspendCh chan struct{}
	resumeCh  chan struct{}
	statusCh  chan statusReq
	filterCh  chan filterReq

	// demandQueue persists across Run invocations (not just within one): a
	// restart (§7, "supervisor restarts") must not silently drop demand a
	// monitor already registered and is still waiting on. Touched only by
	// whichever goroutine is currently executing Run.
	demandQueue []subscriberDemand
}

// New creates a Producer over the given backend. Call Run to start its
// event loop.
func New(id string, b backend.Backend, logger *zap.Logger) *Producer {
	return &Producer{
		id:        id,
		backend:   b,
		logger:    logger,
		enqueueCh: make(chan enqueueReq, 64),
		demandCh:  make(chan demandReq, 16),
		ackCh:     make(chan ackReq, 16),
		nackCh:    make(chan nackReq, 16),
		suspendCh: make(chan struct{}, 1),
		resumeCh:  make(chan struct{}, 1),
		statusCh:  make(chan statusReq),
		filterCh:  make(chan filterReq),
	}
}

// ID returns this producer's registry identity.
func (p *Producer) ID() string { return p.id }

// Run drives the demand/delivery state machine until ctx is cancelled or
// the backend reports a fatal error (connection loss). It returns nil on
// clean shutdown, non-nil if the backend died and a supervisor should
// restart this producer (§7: "Queue backend connection dies ... supervisor
// restarts"). Run may be invoked more than once on the same Producer across
// restarts: p.demandQueue (unlike the subscription/suspension state below,
// which a fresh connection must rebuild from scratch) survives a restart,
// so a monitor's already-registered demand is not silently forgotten.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.backend.Declare(ctx); err != nil {
		return err
	}

	var (
		subscribed bool
		sub        backend.Subscription
		suspended  bool
		deliveries <-chan backend.Delivery
		runErr     error
	)

	emit := func(d *backend.Delivery) {
		sd := p.demandQueue[0]
		p.demandQueue = p.demandQueue[1:]
		job, err := domain.UnmarshalJob(d.Payload)
		if err != nil {
			p.logger.Error("queue producer: malformed payload, dropping", zap.String("producer", p.id), zap.Error(err))
			d.Nack(false)
			return
		}
		job.Private = ackHandle{d}
		select {
		case sd.ch <- Delivered{Job: job, ProducerID: p.id}:
		case <-ctx.Done():
		}
	}

	dispatch := func() {
		if suspended {
			return
		}
		for len(p.demandQueue) > 0 && !subscribed {
			d, ok, err := p.backend.Get(ctx)
			if err != nil {
				p.logger.Error("queue producer: poll failed", zap.String("producer", p.id), zap.Error(err))
				runErr = err
				return
			}
			if !ok {
				s, err := p.backend.Subscribe(ctx)
				if err != nil {
					p.logger.Error("queue producer: subscribe failed", zap.String("producer", p.id), zap.Error(err))
					runErr = err
					return
				}
				subscribed = true
				sub = s
				deliveries = s.Deliveries()
				return
			}
			emit(d)
		}
	}

	// A restart may resume with demand a monitor registered before the
	// previous Run died; satisfy it immediately rather than waiting for
	// the next Demand call.
	dispatch()
	if runErr != nil {
		return runErr
	}

	for {
		select {
		case <-ctx.Done():
			if subscribed && sub != nil {
				sub.Cancel()
			}
			return nil

		case req := <-p.enqueueCh:
			payload, err := req.job.Marshal()
			if err != nil {
				p.logger.Error("queue producer: marshal failed", zap.Error(err))
				continue
			}
			if err := p.backend.Publish(ctx, payload); err != nil {
				p.logger.Error("queue producer: publish failed", zap.String("producer", p.id), zap.Error(err))
			}

		case req := <-p.demandCh:
			for i := 0; i < req.n; i++ {
				p.demandQueue = append(p.demandQueue, subscriberDemand{consumerID: req.consumerID, ch: req.ch})
			}
			metrics.OutstandingDemand.WithLabelValues(p.id, p.id).Set(float64(len(p.demandQueue)))
			dispatch()
			metrics.OutstandingDemand.WithLabelValues(p.id, p.id).Set(float64(len(p.demandQueue)))
			if runErr != nil {
				return runErr
			}

		case req := <-p.ackCh:
			if req.job.Private != nil {
				if err := req.job.Private.Ack(); err != nil {
					p.logger.Error("queue producer: ack failed", zap.Error(err))
				}
			}

		case req := <-p.nackCh:
			if req.job.Private != nil {
				if err := req.job.Private.Nack(true); err != nil {
					p.logger.Error("queue producer: nack failed", zap.Error(err))
				}
			}

		case <-p.suspendCh:
			suspended = true

		case <-p.resumeCh:
			suspended = false
			dispatch()
			if runErr != nil {
				return runErr
			}

		case req := <-p.statusCh:
			depth, err := p.backend.Depth(ctx)
			if err != nil {
				p.logger.Warn("queue producer: depth query failed", zap.Error(err))
			}
			req.resp <- Status{Depth: depth, Suspended: suspended}

		case req := <-p.filterCh:
			payloads, err := p.backend.Filter(ctx, req.pred)
			req.resp <- filterResp{payloads: payloads, err: err}

		case d, ok := <-deliveries:
			if !ok {
				subscribed = false
				sub = nil
				deliveries = nil
				continue
			}
			if suspended {
				d.Nack(true)
				continue
			}
			if len(p.demandQueue) == 0 {
				// Over-delivery: a race with cancellation (§4.B state 3).
				d.Nack(true)
				continue
			}
			emit(&d)
			metrics.OutstandingDemand.WithLabelValues(p.id, p.id).Set(float64(len(p.demandQueue)))
			if len(p.demandQueue) == 0 && subscribed {
				sub.Cancel()
				subscribed = false
				sub = nil
				deliveries = nil
			}
		}
	}
}

// Enqueue serializes and publishes job (fire-and-forget: it returns once
// the request has been handed to the producer's loop, not once the broker
// has confirmed it — §5: enqueue followed by status gives no guarantee).
func (p *Producer) Enqueue(ctx context.Context, job *domain.Job) error {
	select {
	case p.enqueueCh <- enqueueReq{job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Demand registers n units of outstanding demand for consumerID, to be
// satisfied by sending Delivered values on ch.
func (p *Producer) Demand(ctx context.Context, consumerID string, ch chan<- Delivered, n int) error {
	select {
	case p.demandCh <- demandReq{consumerID: consumerID, ch: ch, n: n}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack acknowledges job's completion to the backend via its private ack
// credentials.
func (p *Producer) Ack(ctx context.Context, job *domain.Job) error {
	select {
	case p.ackCh <- ackReq{job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Nack negatively-acknowledges job with redeliver=true.
func (p *Producer) Nack(ctx context.Context, job *domain.Job) error {
	select {
	case p.nackCh <- nackReq{job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend gates delivery downstream until Resume is called.
func (p *Producer) Suspend(ctx context.Context) error {
	select {
	case p.suspendCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume re-enables delivery and immediately attempts to satisfy any
// demand accumulated while suspended.
func (p *Producer) Resume(ctx context.Context) error {
	select {
	case p.resumeCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the backend-reported queue depth plus the suspension flag.
func (p *Producer) Status(ctx context.Context) (Status, error) {
	resp := make(chan Status, 1)
	select {
	case p.statusCh <- statusReq{resp: resp}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Filter returns backend payloads currently queued matching pred
// (best-effort; backend-permitting — see backend.ErrFilterUnsupported).
func (p *Producer) Filter(ctx context.Context, pred func([]byte) bool) ([][]byte, error) {
	resp := make(chan filterResp, 1)
	select {
	case p.filterCh <- filterReq{pred: pred, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.payloads, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ackHandle adapts a backend.Delivery's closures to domain.AckHandle.
type ackHandle struct{ d *backend.Delivery }

func (h ackHandle) Ack() error             { return h.d.Ack() }
func (h ackHandle) Nack(requeue bool) error { return h.d.Nack(requeue) }
