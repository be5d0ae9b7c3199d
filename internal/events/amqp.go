package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/model"
)

// AMQPBus publishes to and consumes from the content_events topic exchange.
// Publishes share one confirm-mode channel; the mutex covers the write, not
// the confirm wait. Each consumer gets its own channel.
type AMQPBus struct {
	url      string
	prefetch int

	mu    sync.Mutex
	conn  *amqp.Connection
	pubCh *amqp.Channel

	RequeueDelay time.Duration
}

// DialAMQP connects and declares the exchange.
func DialAMQP(url string, prefetch int) (*AMQPBus, error) {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	b := &AMQPBus{url: url, prefetch: prefetch, RequeueDelay: DefaultRequeueDelay}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.connectionLocked(); err != nil {
		return nil, err
	}
	log.Info().Str("exchange", Exchange).Msg("amqp: connected")
	return b, nil
}

// connectionLocked returns a live connection, redialing if needed.
func (b *AMQPBus) connectionLocked() (*amqp.Connection, error) {
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if err := declareExchange(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	b.conn = conn
	b.pubCh = nil
	return conn, nil
}

func (b *AMQPBus) publishChannelLocked() (*amqp.Channel, error) {
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}
	conn, err := b.connectionLocked()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	b.pubCh = ch
	return ch, nil
}

func declareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	return nil
}

// Publish sends env as a persistent message and waits for the broker confirm.
func (b *AMQPBus) Publish(ctx context.Context, env model.Envelope) error {
	key, err := RoutingKey(env.EventType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	conf, err := b.send(ctx, key, env, body)
	if err != nil {
		return err
	}
	// b.mu is not held while the confirm is pending.
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("amqp publish %s: broker nacked event %s", key, env.EventID)
	}
	return nil
}

// send writes one message on the shared confirm channel under b.mu.
func (b *AMQPBus) send(ctx context.Context, key string, env model.Envelope, body []byte) (*amqp.DeferredConfirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.publishChannelLocked()
	if err != nil {
		return nil, err
	}
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.EventID.String(),
		Type:         env.EventType,
		Timestamp:    env.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("amqp publish %s: %w", key, err)
	}
	return conf, nil
}

// Consume declares sub's queue and bindings and handles deliveries until ctx
// is cancelled. Broker or channel loss is retried with backoff.
func (b *AMQPBus) Consume(ctx context.Context, sub Subscription, h Handler) error {
	if sub.Queue == "" {
		return errors.New("consume: queue name is required")
	}
	backoff := minReconnectBackoff
	for {
		started, err := b.consumeOnce(ctx, sub, h)
		if ctx.Err() != nil {
			log.Info().Str("queue", sub.Queue).Msg("amqp: consumer stopping (context cancelled)")
			return nil
		}
		if started {
			backoff = minReconnectBackoff
		}
		log.Warn().Err(err).Str("queue", sub.Queue).Dur("retry_in", backoff).
			Msg("amqp: consumer interrupted, reconnecting")
		if !sleepCtx(ctx, backoff) {
			return nil
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (b *AMQPBus) consumeOnce(ctx context.Context, sub Subscription, h Handler) (bool, error) {
	b.mu.Lock()
	conn, err := b.connectionLocked()
	b.mu.Unlock()
	if err != nil {
		return false, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch); err != nil {
		return false, err
	}
	if _, err := ch.QueueDeclare(sub.Queue, true, false, false, false, nil); err != nil {
		return false, fmt.Errorf("declare queue %s: %w", sub.Queue, err)
	}
	for _, key := range sub.Bindings {
		if err := ch.QueueBind(sub.Queue, key, Exchange, false, nil); err != nil {
			return false, fmt.Errorf("bind %s to %s: %w", sub.Queue, key, err)
		}
	}
	prefetch := sub.Prefetch
	if prefetch <= 0 {
		prefetch = b.prefetch
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return false, fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, sub.Queue, "", false, false, false, false, nil)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", sub.Queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	log.Info().Str("queue", sub.Queue).Strs("bindings", sub.Bindings).Int("prefetch", prefetch).
		Msg("amqp: consuming")

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return true, errors.New("channel closed")
			}
			return true, amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("delivery stream closed")
			}
			b.dispatch(ctx, sub.Queue, d, h)
		}
	}
}

// dispatch decodes one delivery, runs h and settles the delivery.
func (b *AMQPBus) dispatch(ctx context.Context, queue string, d amqp.Delivery, h Handler) Outcome {
	var env model.Envelope
	var err error
	if jsonErr := json.Unmarshal(d.Body, &env); jsonErr != nil {
		err = fmt.Errorf("%w: decode envelope: %v", model.ErrValidation, jsonErr)
	} else {
		err = h(ctx, env)
	}

	outcome := Classify(err)
	logger := log.With().Str("queue", queue).Str("message_id", d.MessageId).Logger()
	switch outcome {
	case Ack:
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Warn().Err(ackErr).Msg("amqp: ack failed")
		}
	case Reject:
		logger.Warn().Err(err).Msg("amqp: rejecting poison message")
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.Warn().Err(nackErr).Msg("amqp: nack failed")
		}
	case Requeue:
		logger.Warn().Err(err).Bool("redelivered", d.Redelivered).Msg("amqp: handler failed, requeueing")
		sleepCtx(ctx, b.RequeueDelay)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Warn().Err(nackErr).Msg("amqp: nack failed")
		}
	}
	return outcome
}

// Healthy reports whether the broker connection is open.
func (b *AMQPBus) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh != nil {
		_ = b.pubCh.Close()
		b.pubCh = nil
	}
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
