package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the discovery engine
type Metrics struct {
	// Endpoint traffic, labelled by endpoint name and JSON-RPC method
	RPCRequests *prometheus.CounterVec
	RPCFailures *prometheus.CounterVec

	// Health tracker view of each endpoint
	ConsecutiveFailures *prometheus.GaugeVec

	// Chunked fetcher
	FetchCalls   *prometheus.CounterVec // outcome: ok, exhausted, canceled
	ChunksIssued prometheus.Counter
	LogsReturned prometheus.Counter
	FetchLatency prometheus.Histogram

	// Progressive finder
	FinderWindows *prometheus.CounterVec // result: hit, empty, inconclusive

	// Transaction monitor terminal states
	MonitorOutcomes *prometheus.CounterVec // state, provenance
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// Get returns the process-wide Metrics instance
func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		RPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamefinder_rpc_requests_total",
			Help: "JSON-RPC requests sent, by endpoint and method",
		}, []string{"endpoint", "method"}),
		RPCFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamefinder_rpc_failures_total",
			Help: "JSON-RPC requests that failed at the HTTP or RPC level",
		}, []string{"endpoint", "method"}),
		ConsecutiveFailures: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gamefinder_endpoint_consecutive_failures",
			Help: "Current consecutive failure count per endpoint",
		}, []string{"endpoint"}),
		FetchCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamefinder_fetch_calls_total",
			Help: "FetchLogs calls by outcome",
		}, []string{"outcome"}),
		ChunksIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gamefinder_fetch_chunks_total",
			Help: "Block-range chunks queried",
		}),
		LogsReturned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gamefinder_fetch_logs_total",
			Help: "Deduplicated logs returned to callers",
		}),
		FetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gamefinder_fetch_duration_seconds",
			Help:    "Wall time of one FetchLogs call",
			Buckets: prometheus.DefBuckets,
		}),
		FinderWindows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamefinder_finder_windows_total",
			Help: "Progressive search windows by result",
		}, []string{"result"}),
		MonitorOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gamefinder_monitor_outcomes_total",
			Help: "Transaction monitor terminal states",
		}, []string{"state", "provenance"}),
	}
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
