// Package metrics exposes the bridge's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the bridge emits. Construct once and share.
type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsProcessed *prometheus.CounterVec
	EventsFailed    *prometheus.CounterVec

	ConductorRequests *prometheus.CounterVec
	ConductorLatency  *prometheus.HistogramVec
	DayProofCacheHits prometheus.Counter

	CircuitBreakerState *prometheus.GaugeVec
	PoolHealthyClients  prometheus.Gauge

	OutboundDeliveries *prometheus.CounterVec
	ExportDeliveries   *prometheus.CounterVec

	HTTPRequests        *prometheus.CounterVec
	RateLimitRejections prometheus.Counter
}

// New registers all bridge collectors against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_received_total",
			Help: "Inbound federation envelopes received, by message type",
		}, []string{"message_type"}),
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_processed_total",
			Help: "Envelopes fully processed through the pipeline, by message type",
		}, []string{"message_type"}),
		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_events_failed_total",
			Help: "Envelopes rejected or failed, by reason",
		}, []string{"reason"}),
		ConductorRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_conductor_requests_total",
			Help: "Conductor client calls, by operation and outcome",
		}, []string{"operation", "outcome"}),
		ConductorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_conductor_request_seconds",
			Help:    "Conductor call latency, by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		DayProofCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_day_proof_cache_hits_total",
			Help: "Day proofs served from the local repository cache",
		}),
		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open), by breaker",
		}, []string{"name"}),
		PoolHealthyClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_conductor_pool_healthy_clients",
			Help: "Healthy members in the Conductor pool",
		}),
		OutboundDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_outbound_deliveries_total",
			Help: "Outbound federation delivery attempts, by outcome",
		}, []string{"outcome"}),
		ExportDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_export_deliveries_total",
			Help: "ActivityPub export delivery attempts, by outcome",
		}, []string{"outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "HTTP requests served, by path and status code",
		}, []string{"path", "code"}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_rate_limit_rejections_total",
			Help: "Requests rejected by the per-instance rate limiter",
		}),
	}
}

// NewForTest returns metrics on a throwaway registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
