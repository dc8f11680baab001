// Package memqueue is an in-memory backend.Backend implementation used by
// tests and local development in place of a real broker. It honors the
// same poll/subscribe/ack/nack contract amqp.Backend does, including
// requeue-on-nack, so the demand state machine in internal/queueproducer
// can be exercised without RabbitMQ.
//
// Grounded on the recorded-calls test-double style of
// worker/internal/repository/mock/mock.go, adapted from a method-stub mock
// to a small working queue since the Queue Producer's state machine needs
// a backend that actually holds and redelivers messages.
package memqueue

import (
	"context"
	"sync"

	"github.com/shovelend/pond/internal/backend"
)

// Backend is a FIFO, single-process durable-queue stand-in.
type Backend struct {
	mu        sync.Mutex
	queue     [][]byte
	sub       *subscription
	declared  bool
	closed    bool
	nextID    uint64
	unacked   map[uint64][]byte
}

// New creates an empty in-memory queue.
func New() *Backend {
	return &Backend{unacked: make(map[uint64][]byte)}
}

func (b *Backend) Declare(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared = true
	return nil
}

// Push seeds the queue directly, useful for test setup.
func (b *Backend) Push(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, payload)
	b.notifyLocked()
}

func (b *Backend) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return context.Canceled
	}
	b.queue = append(b.queue, payload)
	b.notifyLocked()
	return nil
}

// notifyLocked pushes a delivery to the active subscription, if any, and if
// the queue is non-empty. Called with b.mu held.
func (b *Backend) notifyLocked() {
	if b.sub == nil || len(b.queue) == 0 {
		return
	}
	payload := b.queue[0]
	b.queue = b.queue[1:]
	id := b.nextID
	b.nextID++
	b.unacked[id] = payload
	d := backend.Delivery{
		Payload: payload,
		Ack:     b.ackFunc(id),
		Nack:    b.nackFunc(id),
	}
	select {
	case b.sub.ch <- d:
	default:
		// Subscriber not draining yet; block in a goroutine so Publish
		// itself never stalls (mirrors an AMQP broker not waiting on a
		// slow consumer).
		go func() { b.sub.ch <- d }()
	}
}

func (b *Backend) ackFunc(id uint64) func() error {
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.unacked, id)
		return nil
	}
}

func (b *Backend) nackFunc(id uint64) func(bool) error {
	return func(requeue bool) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		payload, ok := b.unacked[id]
		delete(b.unacked, id)
		if !ok {
			return nil
		}
		if requeue {
			b.queue = append(b.queue, payload)
			b.notifyLocked()
		}
		return nil
	}
}

func (b *Backend) Get(ctx context.Context) (*backend.Delivery, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false, nil
	}
	payload := b.queue[0]
	b.queue = b.queue[1:]
	id := b.nextID
	b.nextID++
	b.unacked[id] = payload
	return &backend.Delivery{
		Payload: payload,
		Ack:     b.ackFunc(id),
		Nack:    b.nackFunc(id),
	}, true, nil
}

type subscription struct {
	ch     chan backend.Delivery
	cancel func() error
}

func (s *subscription) Deliveries() <-chan backend.Delivery { return s.ch }
func (s *subscription) Cancel() error                       { return s.cancel() }

func (b *Backend) Subscribe(ctx context.Context) (backend.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan backend.Delivery, 1)
	sub := &subscription{ch: ch}
	sub.cancel = func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.sub == sub {
			b.sub = nil
		}
		return nil
	}
	b.sub = sub
	b.notifyLocked()
	return sub, nil
}

func (b *Backend) Depth(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue), nil
}

func (b *Backend) Filter(ctx context.Context, pred func([]byte) bool) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0)
	for _, payload := range b.queue {
		if pred(payload) {
			out = append(out, payload)
		}
	}
	return out, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
