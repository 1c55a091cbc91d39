// Package metrics exposes Prometheus metrics for the settlement engine.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// EngineMetrics collects invocation, event and oracle metrics on its own
// registry.
type EngineMetrics struct {
	registry *prometheus.Registry

	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration prometheus.Histogram
	EventsTotal        *prometheus.CounterVec
	TradeVolume        *prometheus.CounterVec
	PayoutVolume       prometheus.Counter
	MarketsResolved    *prometheus.CounterVec
	OracleFetches      *prometheus.CounterVec
	OracleFetchLatency prometheus.Histogram
}

// New creates an EngineMetrics with every collector registered.
func New() *EngineMetrics {
	m := &EngineMetrics{
		registry: prometheus.NewRegistry(),

		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictx_invocations_total",
				Help: "Invocations by outcome",
			},
			[]string{"status"},
		),
		InvocationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "predictx_invocation_duration_seconds",
				Help:    "Wall time of one atomic invocation including commit",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictx_events_total",
				Help: "Committed events by name",
			},
			[]string{"name"},
		),
		TradeVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictx_trade_volume_total",
				Help: "Shares bought, in token base units",
			},
			[]string{"side"},
		),
		PayoutVolume: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "predictx_payout_volume_total",
				Help: "Tokens paid out to winners, in base units",
			},
		),
		MarketsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictx_markets_resolved_total",
				Help: "Markets resolved by outcome",
			},
			[]string{"outcome"},
		),
		OracleFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictx_oracle_fetches_total",
				Help: "Oracle fetches by response code",
			},
			[]string{"code"},
		),
		OracleFetchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "predictx_oracle_fetch_duration_seconds",
				Help:    "Oracle HTTP fetch latency",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.InvocationsTotal,
		m.InvocationDuration,
		m.EventsTotal,
		m.TradeVolume,
		m.PayoutVolume,
		m.MarketsResolved,
		m.OracleFetches,
		m.OracleFetchLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *EngineMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveInvocation records one finished invocation.
func (m *EngineMetrics) ObserveInvocation(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.InvocationsTotal.WithLabelValues(status).Inc()
	m.InvocationDuration.Observe(d.Seconds())
}

// ObserveFetch records one oracle fetch.
func (m *EngineMetrics) ObserveFetch(code string, d time.Duration) {
	m.OracleFetches.WithLabelValues(code).Inc()
	m.OracleFetchLatency.Observe(d.Seconds())
}

// Deliver counts committed events. It never fails.
func (m *EngineMetrics) Deliver(_ context.Context, events []domain.Event) error {
	for _, ev := range events {
		m.EventsTotal.WithLabelValues(ev.Name).Inc()
		switch p := ev.Payload.(type) {
		case domain.TradeExecuted:
			m.TradeVolume.WithLabelValues(domain.SideFromBool(p.IsYes).String()).Add(float64(p.Amount))
		case domain.PayoutDistributed:
			m.PayoutVolume.Add(float64(p.Amount))
		case domain.MarketResolved:
			m.MarketsResolved.WithLabelValues(domain.SideFromBool(p.Outcome).String()).Inc()
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventSink = (*EngineMetrics)(nil)
