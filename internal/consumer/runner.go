// Package consumer holds the queue consumers that react to content events:
// AI pre-screen, search indexing, author notification, AI feedback capture
// and the Content component status sync. Every consumer is idempotent.
package consumer

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/metrics"
	"github.com/truthsignal/consensus-engine/internal/model"
)

// Queue names.
const (
	QueuePrescreen     = "verification_queue"
	QueueSearchIndex   = "search_index_queue"
	QueueNotification  = "notification_queue"
	QueueAIFeedback    = "ai_feedback_queue"
	QueueContentStatus = "content_status_queue"
)

// Consumer handles envelopes from one queue.
type Consumer interface {
	Name() string
	Subscription() events.Subscription
	Handle(ctx context.Context, env model.Envelope) error
}

// Ledger remembers event ids a consumer has finished.
type Ledger interface {
	Processed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) error
}

// Runner attaches consumers to the bus.
type Runner struct {
	bus      events.Subscriber
	ledger   Ledger
	metrics  *metrics.Collectors
	prefetch int
}

// NewRunner creates a runner. ledger may be nil.
func NewRunner(bus events.Subscriber, ledger Ledger, m *metrics.Collectors, prefetch int) *Runner {
	return &Runner{bus: bus, ledger: ledger, metrics: m, prefetch: prefetch}
}

// Run consumes c's queue until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, c Consumer) error {
	sub := c.Subscription()
	if sub.Prefetch <= 0 {
		sub.Prefetch = r.prefetch
	}
	log.Info().Str("consumer", c.Name()).Str("queue", sub.Queue).Msg("consumer: starting")
	return r.bus.Consume(ctx, sub, r.handler(c))
}

func (r *Runner) handler(c Consumer) events.Handler {
	name := c.Name()
	return func(ctx context.Context, env model.Envelope) error {
		eventID := env.EventID.String()
		logger := log.With().Str("consumer", name).Str("event_id", eventID).Str("content_id", env.ContentID).Logger()

		if r.ledger != nil {
			seen, err := r.ledger.Processed(ctx, name, eventID)
			if err != nil {
				logger.Warn().Err(err).Msg("consumer: dedupe lookup failed, processing anyway")
			} else if seen {
				logger.Debug().Msg("consumer: already processed, skipping")
				r.metrics.Consumed(name, "skip")
				return nil
			}
		}

		err := c.Handle(ctx, env)
		r.metrics.Consumed(name, events.Classify(err).String())
		if err != nil {
			return err
		}

		if r.ledger != nil {
			if err := r.ledger.MarkProcessed(ctx, name, eventID); err != nil {
				logger.Warn().Err(err).Msg("consumer: dedupe mark failed")
			}
		}
		return nil
	}
}
