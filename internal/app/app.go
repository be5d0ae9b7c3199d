// Package app wires configuration into the stores, the event bus and the
// collaborators, and hands back runnable components for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/config"
	"github.com/truthsignal/consensus-engine/internal/consumer"
	"github.com/truthsignal/consensus-engine/internal/contentsvc"
	"github.com/truthsignal/consensus-engine/internal/db"
	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/handler"
	"github.com/truthsignal/consensus-engine/internal/metrics"
	"github.com/truthsignal/consensus-engine/internal/notify"
	"github.com/truthsignal/consensus-engine/internal/prescreen"
	"github.com/truthsignal/consensus-engine/internal/repository"
	"github.com/truthsignal/consensus-engine/internal/repository/memstore"
	"github.com/truthsignal/consensus-engine/internal/search"
	"github.com/truthsignal/consensus-engine/internal/service"
)

const (
	Version = "1.0.0"

	connectTimeout = 10 * time.Second
)

// Component is a long-running part of the process.
type Component interface {
	Name() string
	Run(ctx context.Context) error
}

// App owns every connection the process opens.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Collectors
	Service  *service.VerificationService

	pool     *pgxpool.Pool
	votes    repository.VoteStore
	outbox   repository.OutboxStore
	listener repository.OutboxListener
	content  repository.ContentStore
	bus      events.Bus
	amqp     *events.AMQPBus
	ledger   *service.CacheService

	// Set by Consumers.
	elastic *search.ElasticIndexer
	mongo   *notify.MongoInbox
}

// New connects the vote store, the outbox and the event bus.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{
		Config:   cfg,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}

	if err := a.setupStorage(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("setting up storage: %w", err)
	}
	if err := a.setupBus(); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("setting up event bus: %w", err)
	}

	a.Service = service.NewVerificationService(a.votes, a.outbox, a.bus, a.Metrics)
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.Config.StorageDriver {
	case config.DriverMemory:
		store := memstore.New()
		a.votes, a.outbox, a.listener, a.content = store, store, store, store
		log.Warn().Msg("storage: using in-memory store, votes are lost on exit")
		return nil

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, a.Config.DatabaseURL)
		if err != nil {
			return err
		}
		a.pool = pool
		metrics.RegisterPool(a.Registry, pool)

		outbox := repository.NewOutboxRepo(pool)
		a.votes = repository.NewVoteRepo(pool)
		a.outbox, a.listener = outbox, outbox
		a.content = repository.NewContentRepo(pool)
		return nil

	default:
		return fmt.Errorf("unknown storage driver [%s]", a.Config.StorageDriver)
	}
}

func (a *App) setupBus() error {
	switch a.Config.EventBus {
	case config.BusMemory:
		a.bus = events.NewMemoryBus()
		log.Warn().Msg("events: using in-memory bus, consumers must run in this process")
		return nil

	case config.BusAMQP:
		bus, err := events.DialAMQP(a.Config.AMQPURL, a.Config.ConsumerPrefetch)
		if err != nil {
			return err
		}
		a.bus, a.amqp = bus, bus
		return nil

	default:
		return fmt.Errorf("unknown event bus [%s]", a.Config.EventBus)
	}
}

// InProcessBus reports whether consumers can only see events published by
// this process.
func (a *App) InProcessBus() bool {
	_, ok := a.bus.(*events.MemoryBus)
	return ok
}

// HTTPServer builds the fiber server component.
func (a *App) HTTPServer() (Component, error) {
	s, err := newHTTPServer(a)
	if err != nil {
		return nil, fmt.Errorf("setting up http server: %w", err)
	}
	return s, nil
}

// Sweeper builds the outbox sweeper.
func (a *App) Sweeper() *service.OutboxWorker {
	return service.NewOutboxWorker(a.outbox, a.listener, a.bus, a.Metrics, service.OutboxConfig{
		Interval:  a.Config.OutboxSweepInterval,
		Grace:     a.Config.OutboxGrace,
		BatchSize: a.Config.OutboxBatchSize,
	})
}

// Consumers connects the downstream collaborators and returns one component
// per consumer. names filters by consumer name; empty means all.
func (a *App) Consumers(ctx context.Context, names ...string) ([]Component, error) {
	if a.ledger == nil {
		a.ledger = service.NewCacheService(a.Config.RedisURL, a.Config.EventDedupeTTL)
	}

	indexer, err := a.setupIndexer(ctx)
	if err != nil {
		return nil, fmt.Errorf("setting up search indexer: %w", err)
	}
	notifier, err := a.setupNotifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("setting up notifier: %w", err)
	}

	var updater contentsvc.StatusUpdater = contentsvc.LogUpdater{}
	if a.Config.ContentServiceURL != "" {
		updater = contentsvc.NewClient(a.Config.ContentServiceURL, a.Config.RequestTimeout)
	} else {
		log.Warn().Msg("content-status: CONTENT_SERVICE_URL not set, status updates are logged only")
	}

	all := []consumer.Consumer{
		consumer.NewPrescreen(prescreen.New(a.Config.AIEngineURL, a.Config.RequestTimeout), a.content, indexer, a.bus),
		consumer.NewSearchIndex(indexer),
		consumer.NewNotification(a.content, notifier),
		consumer.NewAIFeedback(a.content),
		consumer.NewContentStatus(updater),
	}

	selected, err := filterConsumers(all, names)
	if err != nil {
		return nil, err
	}

	runner := consumer.NewRunner(a.bus, a.ledger, a.Metrics, a.Config.ConsumerPrefetch)
	comps := make([]Component, 0, len(selected))
	for _, c := range selected {
		// The memory bus drops messages for queues nobody declared yet.
		if mem, ok := a.bus.(*events.MemoryBus); ok {
			mem.Declare(c.Subscription())
		}
		comps = append(comps, &consumerComponent{runner: runner, consumer: c})
	}
	return comps, nil
}

func filterConsumers(all []consumer.Consumer, names []string) ([]consumer.Consumer, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]consumer.Consumer, len(all))
	for _, c := range all {
		byName[c.Name()] = c
	}
	out := make([]consumer.Consumer, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown consumer [%s]", n)
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *App) setupIndexer(ctx context.Context) (search.Indexer, error) {
	if a.Config.ElasticsearchURL == "" {
		log.Warn().Msg("search: ELASTICSEARCH_URL not set, index writes are skipped")
		return search.LogIndexer{}, nil
	}
	if a.elastic == nil {
		x, err := search.NewElasticIndexer(a.Config.ElasticsearchURL, a.Config.ElasticsearchIndex)
		if err != nil {
			return nil, err
		}
		ensureCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := x.EnsureIndex(ensureCtx); err != nil {
			// Writes create the index with dynamic mappings if this never succeeds.
			log.Warn().Err(err).Msg("search: ensure index failed")
		}
		a.elastic = x
	}
	return a.elastic, nil
}

func (a *App) setupNotifier(ctx context.Context) (notify.Notifier, error) {
	if a.Config.MongoURL == "" {
		log.Warn().Msg("notification: MONGO_URL not set, notifications are logged only")
		return notify.LogNotifier{}, nil
	}
	if a.mongo == nil {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		inbox, err := notify.ConnectMongoInbox(connectCtx, a.Config.MongoURL, a.Config.MongoDatabase)
		if err != nil {
			return nil, err
		}
		a.mongo = inbox
	}
	return a.mongo, nil
}

// healthDeps lists what the readiness probe checks. Only the vote store and
// the broker are required.
func (a *App) healthDeps() []handler.Dependency {
	deps := []handler.Dependency{}
	if a.pool != nil {
		deps = append(deps, handler.Dependency{Name: "database", Check: a.pool})
	}
	if a.amqp != nil {
		bus := a.amqp
		deps = append(deps, handler.Dependency{Name: "broker", Check: handler.PingFunc(func(context.Context) error {
			if !bus.Healthy() {
				return errors.New("broker connection closed")
			}
			return nil
		})})
	}
	if rdb := a.ledger.Client(); rdb != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Optional: true, Check: handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})})
	}
	if a.elastic != nil {
		deps = append(deps, handler.Dependency{Name: "elasticsearch", Optional: true, Check: a.elastic})
	}
	if a.mongo != nil {
		deps = append(deps, handler.Dependency{Name: "mongodb", Optional: true, Check: a.mongo})
	}
	return deps
}

// Close releases every connection. Safe to call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			log.Warn().Err(err).Msg("close event bus")
		}
	}
	if err := a.ledger.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis")
	}
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("close mongodb")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

type consumerComponent struct {
	runner   *consumer.Runner
	consumer consumer.Consumer
}

func (c *consumerComponent) Name() string { return "consumer:" + c.consumer.Name() }

func (c *consumerComponent) Run(ctx context.Context) error {
	return c.runner.Run(ctx, c.consumer)
}
