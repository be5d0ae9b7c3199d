// Package metrics holds the Prometheus collectors shared by the HTTP layer,
// the verification service, the outbox sweeper and the consumers. A nil
// *Collectors is valid and records nothing.
package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "consensus"

type Collectors struct {
	VotesTotal         *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	PublishTotal       *prometheus.CounterVec
	ConsumedTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RequestsInFlight   prometheus.Gauge
	SubmitDuration     prometheus.Histogram
	OutboxSweepBacklog prometheus.Gauge
}

// New creates the collectors and registers them with reg. reg may be nil for
// unregistered collectors (tests).
func New(reg prometheus.Registerer) *Collectors {
	m := &Collectors{
		VotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_total",
				Help:      "Votes accepted, by vote type and whether the row was created or updated.",
			},
			[]string{"vote_type", "outcome"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Computed verification status transitions, by old and new status.",
			},
			[]string{"old_status", "new_status"},
		),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_publish_total",
				Help:      "Transition publish attempts, by stage (inline, sweep) and result.",
			},
			[]string{"stage", "result"},
		),
		ConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Messages handled by consumers, by consumer and result.",
			},
			[]string{"consumer", "result"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "HTTP request duration in seconds, by endpoint and method.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "method", "status"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being served.",
			},
		),
		SubmitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vote_submit_duration_seconds",
				Help:      "Duration of the serialized vote unit of work.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		OutboxSweepBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbox_sweep_batch_size",
				Help:      "Unpublished transitions found by the last outbox sweep.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.VotesTotal,
			m.TransitionsTotal,
			m.PublishTotal,
			m.ConsumedTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.SubmitDuration,
			m.OutboxSweepBacklog,
		)
	}
	return m
}

// RegisterPool exposes live pgxpool stats.
func RegisterPool(reg prometheus.Registerer, pool *pgxpool.Pool) {
	if reg == nil || pool == nil {
		return
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool_active",
				Help:      "Number of active database connections.",
			},
			func() float64 { return float64(pool.Stat().AcquiredConns()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool_idle",
				Help:      "Number of idle database connections.",
			},
			func() float64 { return float64(pool.Stat().IdleConns()) },
		),
	)
}

func (m *Collectors) Vote(voteType string, created bool) {
	if m == nil {
		return
	}
	outcome := "updated"
	if created {
		outcome = "created"
	}
	m.VotesTotal.WithLabelValues(voteType, outcome).Inc()
}

func (m *Collectors) Transition(oldStatus, newStatus string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(oldStatus, newStatus).Inc()
}

func (m *Collectors) Publish(stage string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PublishTotal.WithLabelValues(stage, result).Inc()
}

// Consumed records ack, requeue, reject or skip for a consumer.
func (m *Collectors) Consumed(consumer, result string) {
	if m == nil {
		return
	}
	m.ConsumedTotal.WithLabelValues(consumer, result).Inc()
}

func (m *Collectors) ObserveSubmit(seconds float64) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(seconds)
}

func (m *Collectors) SweepBacklog(n int) {
	if m == nil {
		return
	}
	m.OutboxSweepBacklog.Set(float64(n))
}
