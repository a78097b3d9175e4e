package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_alerts"

// Metrics holds the Prometheus counters, histograms, and gauges for the alert service.
type Metrics struct {
	FetchCycles        *prometheus.CounterVec // labels: outcome={success,error,no_location}
	FetchCycleDuration prometheus.Histogram
	AlertsCurrent      prometheus.Gauge
	SchedulerRunning   prometheus.Gauge

	// Bridge metrics.
	BridgePending   prometheus.Gauge
	BridgeUnmatched prometheus.Counter

	// Worker metrics.
	WorkerFetches       *prometheus.CounterVec // labels: outcome={success,<translation key>}
	WorkerFetchDuration prometheus.Histogram
	WorkerStreams       prometheus.Gauge

	// Listener fan-out.
	UpdatesPublished *prometheus.CounterVec // labels: listener, outcome={success,error}

	// WebSocket connections by endpoint={alerts,fetch}.
	WebsocketConnections *prometheus.GaugeVec

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchCycles,
		m.FetchCycleDuration,
		m.AlertsCurrent,
		m.SchedulerRunning,
		m.BridgePending,
		m.BridgeUnmatched,
		m.WorkerFetches,
		m.WorkerFetchDuration,
		m.WorkerStreams,
		m.UpdatesPublished,
		m.WebsocketConnections,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cycles_total",
			Help:      "Completed fetch cycles by outcome.",
		}, []string{"outcome"}),
		FetchCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_cycle_duration_seconds",
			Help:      "Duration from cycle start to completion callback.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		AlertsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_current",
			Help:      "Number of alerts in the most recent set.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the fetch scheduler is active, 0 when shut down.",
		}),
		BridgePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_pending_requests",
			Help:      "Fetch requests awaiting a reply from the worker.",
		}),
		BridgeUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_unmatched_replies_total",
			Help:      "Worker replies that matched no pending request.",
		}),
		WorkerFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_fetches_total",
			Help:      "Upstream fetches performed by the worker, by outcome.",
		}, []string{"outcome"}),
		WorkerFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_fetch_duration_seconds",
			Help:      "Upstream HTTP fetch duration in seconds, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		WorkerStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_streams",
			Help:      "Fetch streams with an in-flight request.",
		}),
		UpdatesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_published_total",
			Help:      "WEATHER_ALERTS_UPDATED deliveries by listener and outcome.",
		}, []string{"listener", "outcome"}),
		WebsocketConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections by endpoint.",
		}, []string{"endpoint"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding is enabled, 0 otherwise.",
		}),
	}
}
