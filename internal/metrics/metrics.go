// Package metrics exposes pipeline counters on a dedicated prometheus
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every beacon metric plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Track results.
const (
	ResultQueued   = "queued"
	ResultInvalid  = "invalid"
	ResultRejected = "rejected"
)

// Delivery outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeDropped  = "dropped"
	OutcomeHeld     = "held"
	OutcomeReplayed = "replayed"
	OutcomeExpired  = "expired"
)

var (
	// eventsTracked counts Track calls by result
	eventsTracked = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_tracked_total",
			Help: "Total Track calls by result",
		},
		[]string{"result"},
	)

	// deliveries counts per-event delivery outcomes
	deliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_deliveries_total",
			Help: "Total event deliveries by outcome",
		},
		[]string{"outcome"},
	)

	retries = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_retries_total",
			Help: "Total delivery retry attempts",
		},
	)

	queueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_queue_depth",
			Help: "Events waiting in the send queue",
		},
	)

	holdingDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_holding_depth",
			Help: "Events parked in the offline holding queue",
		},
	)

	// failures counts captured failures by execution context and outcome
	failures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_failures_total",
			Help: "Total captured failures by context and outcome",
		},
		[]string{"context", "outcome"},
	)

	// collectorRequests counts requests served by the dev collector
	collectorRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_collector_requests_total",
			Help: "Total dev collector requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// RecordTrack increments the tracked-events counter.
func RecordTrack(result string) {
	eventsTracked.WithLabelValues(result).Inc()
}

// RecordDelivery increments the delivery counter.
func RecordDelivery(outcome string) {
	deliveries.WithLabelValues(outcome).Inc()
}

// RecordRetry increments the retry counter.
func RecordRetry() {
	retries.Inc()
}

// SetQueueDepth sets the send queue gauge.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetHoldingDepth sets the holding queue gauge.
func SetHoldingDepth(n int) {
	holdingDepth.Set(float64(n))
}

// RecordFailure increments the failure counter.
func RecordFailure(context, outcome string) {
	failures.WithLabelValues(context, outcome).Inc()
}

// RecordCollectorRequest increments the dev collector counter.
func RecordCollectorRequest(route, status string) {
	collectorRequests.WithLabelValues(route, status).Inc()
}
