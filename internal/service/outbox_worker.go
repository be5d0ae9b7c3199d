package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/metrics"
	"github.com/truthsignal/consensus-engine/internal/repository"
)

const (
	DefaultSweepInterval  = 30 * time.Second
	DefaultSweepGrace     = 10 * time.Second
	DefaultSweepBatchSize = 100

	listenRetryDelay = 5 * time.Second
)

// OutboxConfig tunes the outbox sweeper. PublishTimeout bounds each publish
// so a stalled broker cannot wedge a sweep.
type OutboxConfig struct {
	Interval       time.Duration
	Grace          time.Duration
	BatchSize      int
	PublishTimeout time.Duration
}

// OutboxWorker republishes transitions whose inline publish failed or never
// ran. It sweeps every Interval, and Grace after each outbox notification;
// entries younger than Grace are left to the submitting request.
type OutboxWorker struct {
	outbox    repository.OutboxStore
	listener  repository.OutboxListener
	publisher events.Publisher
	metrics   *metrics.Collectors
	cfg       OutboxConfig
	now       func() time.Time
}

// NewOutboxWorker creates a sweeper. listener may be nil, in which case only
// the ticker drives sweeps.
func NewOutboxWorker(outbox repository.OutboxStore, listener repository.OutboxListener, pub events.Publisher, m *metrics.Collectors, cfg OutboxConfig) *OutboxWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = DefaultSweepGrace
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = publishTimeout
	}
	return &OutboxWorker{
		outbox:    outbox,
		listener:  listener,
		publisher: pub,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (w *OutboxWorker) Name() string { return "outbox-sweeper" }

// Run sweeps until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("grace", w.cfg.Grace).
		Int("batch_size", w.cfg.BatchSize).
		Msg("outbox-sweeper: starting")

	wake := make(chan struct{}, 1)
	if w.listener != nil {
		go w.listenLoop(ctx, wake)
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	var (
		delay  *time.Timer
		delayC <-chan time.Time
	)
	defer func() {
		if delay != nil {
			delay.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox-sweeper: stopping (context cancelled)")
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		case <-wake:
			if delayC == nil {
				delay = time.NewTimer(w.cfg.Grace)
				delayC = delay.C
			}
		case <-delayC:
			delayC = nil
			w.sweep(ctx)
		}
	}
}

// listenLoop forwards outbox notifications to wake, reconnecting after errors.
func (w *OutboxWorker) listenLoop(ctx context.Context, wake chan<- struct{}) {
	for {
		err := w.listener.ListenOutbox(ctx, wake)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", listenRetryDelay).Msg("outbox-sweeper: listen error, reconnecting")
		select {
		case <-time.After(listenRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (w *OutboxWorker) sweep(ctx context.Context) {
	published, failed, err := w.SweepOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("outbox-sweeper: sweep failed")
		return
	}
	if published > 0 || failed > 0 {
		log.Info().Int("published", published).Int("failed", failed).Msg("outbox-sweeper: sweep complete")
	}
}

// SweepOnce publishes up to BatchSize pending entries older than Grace.
func (w *OutboxWorker) SweepOnce(ctx context.Context) (published, failed int, err error) {
	entries, err := w.outbox.PendingOutbox(ctx, w.now().Add(-w.cfg.Grace), w.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	w.metrics.SweepBacklog(len(entries))

	for _, e := range entries {
		if ctx.Err() != nil {
			return published, failed, ctx.Err()
		}
		pubCtx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
		err := PublishOutboxEntry(pubCtx, w.publisher, w.outbox, e.Envelope, "sweep", w.metrics)
		cancel()
		if err != nil {
			log.Warn().Err(err).
				Str("event_id", e.ID.String()).
				Str("content_id", e.ContentID).
				Int("attempts", e.Attempts+1).
				Msg("outbox-sweeper: publish failed")
			failed++
			continue
		}
		published++
	}
	return published, failed, nil
}
