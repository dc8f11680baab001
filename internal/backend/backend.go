// Package backend defines the external durable queue contract (§6): a
// backend that supports both polling get and push-subscription consume,
// ack/nack with redeliver, and a best-effort content filter. Concrete
// implementations live in sibling packages (amqp for RabbitMQ, memqueue for
// tests and local development).
package backend

import (
	"context"
	"errors"
)

// ErrFilterUnsupported is returned by backends that cannot snapshot their
// contents without consuming them.
var ErrFilterUnsupported = errors.New("backend: filter not supported")

// Delivery is one message handed back by Get or pushed through a
// Subscription, carrying the ack/nack closures bound to the exact
// connection/channel/delivery tag that produced it.
type Delivery struct {
	Payload []byte
	Ack     func() error
	Nack    func(requeue bool) error
}

// Subscription is a cancellable push-mode consumer registration.
type Subscription interface {
	// Deliveries streams incoming messages until the subscription is
	// cancelled or the backend connection dies.
	Deliveries() <-chan Delivery
	// Cancel stops the subscription. Safe to call more than once.
	Cancel() error
}

// Backend is the durable queue contract a Queue Producer drives.
type Backend interface {
	// Declare ensures the backend's durable queue (and any supporting
	// topology: exchanges, dead-letter routing) exists.
	Declare(ctx context.Context) error

	// Publish persists payload to the backend with persistence enabled.
	Publish(ctx context.Context, payload []byte) error

	// Get polls once. ok=false means the queue was empty.
	Get(ctx context.Context) (delivery *Delivery, ok bool, err error)

	// Subscribe starts a push-mode consumer bounded by the backend's own
	// prefetch/QoS setting.
	Subscribe(ctx context.Context) (Subscription, error)

	// Depth reports the backend's best-effort queue depth, for Status.
	Depth(ctx context.Context) (int, error)

	// Filter returns a best-effort snapshot of payloads currently queued
	// matching pred, or ErrFilterUnsupported if the backend cannot do this
	// without consuming messages.
	Filter(ctx context.Context, pred func([]byte) bool) ([][]byte, error)

	// Close releases the backend's connection.
	Close() error
}
