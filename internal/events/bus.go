// Package events moves envelopes between this engine and its consumers:
// a RabbitMQ topic exchange in production and an in-process bus for tests
// and single-binary development.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/truthsignal/consensus-engine/internal/model"
)

// Exchange is the durable topic exchange every envelope is published to.
const Exchange = "content_events"

// Routing keys.
const (
	KeyContentCreated     = "content.created"
	KeyStatusTransitioned = "content.status.transitioned"
)

const (
	DefaultPrefetch     = 1
	DefaultRequeueDelay = time.Second

	minReconnectBackoff = time.Second
	maxReconnectBackoff = 30 * time.Second
)

// ErrUnknownEventType is returned for envelopes with no routing key.
var ErrUnknownEventType = errors.New("unknown event type")

// RoutingKey maps an envelope's event type to its routing key.
func RoutingKey(eventType string) (string, error) {
	switch eventType {
	case model.EventContentCreated:
		return KeyContentCreated, nil
	case model.EventStatusTransitioned:
		return KeyStatusTransitioned, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

// Publisher delivers an envelope durably. Publish returns only after the
// broker has accepted the message.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) error
}

// Handler processes one delivery. A nil return acknowledges the message.
// An error wrapping model.ErrValidation marks the message as poison and it
// is dropped; any other error requeues it.
type Handler func(ctx context.Context, env model.Envelope) error

// Subscription names a durable queue and the routing keys bound to it.
type Subscription struct {
	Queue    string
	Bindings []string
	Prefetch int
}

// Subscriber runs a handler over a queue until ctx is cancelled.
type Subscriber interface {
	Consume(ctx context.Context, sub Subscription, h Handler) error
}

// Bus is both sides of the event bus.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// Outcome of handling one delivery.
type Outcome int

const (
	Ack Outcome = iota
	Requeue
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "reject"
	}
}

// Classify maps a handler result to what happens to the delivery.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, model.ErrValidation):
		return Reject
	default:
		return Requeue
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
