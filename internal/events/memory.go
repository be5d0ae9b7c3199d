package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/model"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// MemoryBus is an in-process Bus with the same routing, requeue and poison
// semantics as the AMQP adapter. Messages published to a routing key with no
// declared queue are dropped, as with an unbound exchange.
type MemoryBus struct {
	mu        sync.Mutex
	queues    map[string]*memQueue
	bindings  map[string]map[string]struct{}
	published []model.Envelope
	closed    bool

	// RequeueDelay is waited before a failed delivery is requeued.
	RequeueDelay time.Duration
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		queues:       make(map[string]*memQueue),
		bindings:     make(map[string]map[string]struct{}),
		RequeueDelay: DefaultRequeueDelay,
	}
}

// Declare creates sub's queue and bindings if they do not exist yet.
func (b *MemoryBus) Declare(sub Subscription) {
	b.declare(sub)
}

func (b *MemoryBus) declare(sub Subscription) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[sub.Queue]
	if !ok {
		q = &memQueue{ready: make(chan struct{}, 1)}
		b.queues[sub.Queue] = q
	}
	for _, key := range sub.Bindings {
		if b.bindings[key] == nil {
			b.bindings[key] = make(map[string]struct{})
		}
		b.bindings[key][sub.Queue] = struct{}{}
	}
	return q
}

func (b *MemoryBus) Publish(ctx context.Context, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := RoutingKey(env.EventType)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published = append(b.published, env)
	for name := range b.bindings[key] {
		b.queues[name].push(env, false)
	}
	return nil
}

func (b *MemoryBus) Consume(ctx context.Context, sub Subscription, h Handler) error {
	if sub.Queue == "" {
		return fmt.Errorf("consume: queue name is required")
	}
	q := b.declare(sub)
	for {
		env, ok := q.pop(ctx)
		if !ok {
			return nil
		}
		err := h(ctx, env)
		switch Classify(err) {
		case Ack:
		case Reject:
			log.Warn().Err(err).
				Str("queue", sub.Queue).
				Str("event_id", env.EventID.String()).
				Msg("events: rejecting poison message")
		case Requeue:
			log.Warn().Err(err).
				Str("queue", sub.Queue).
				Str("event_id", env.EventID.String()).
				Msg("events: handler failed, requeueing")
			sleepCtx(ctx, b.RequeueDelay)
			q.push(env, true)
		}
	}
}

// Published returns every envelope accepted so far, in publish order.
func (b *MemoryBus) Published() []model.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Envelope, len(b.published))
	copy(out, b.published)
	return out
}

// Pending returns the number of undelivered messages on a queue.
func (b *MemoryBus) Pending(queue string) int {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type memQueue struct {
	mu    sync.Mutex
	items []model.Envelope
	ready chan struct{}
}

// push appends env, or puts it at the head when it is a redelivery.
func (q *memQueue) push(env model.Envelope, front bool) {
	q.mu.Lock()
	if front {
		q.items = append([]model.Envelope{env}, q.items...)
	} else {
		q.items = append(q.items, env)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *memQueue) pop(ctx context.Context) (model.Envelope, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return env, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.Envelope{}, false
		case <-q.ready:
		}
	}
}

func (q *memQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
