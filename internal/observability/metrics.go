package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeProtocol = "protocol_error"
)

var (
	registerOnce sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minijira",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests handled, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minijira",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Handler duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "minijira",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Connections currently served.",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "minijira",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Authenticated sessions currently live.",
		},
	)
	storeFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minijira",
			Subsystem: "store",
			Name:      "flushes_total",
			Help:      "Snapshot flushes, by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requests, requestDuration, activeConnections, activeSessions, storeFlushes)
	})
}

func RecordRequest(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(kind, outcome).Inc()
	requestDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

func SetActiveConnections(n int64) {
	RegisterMetrics()
	activeConnections.Set(float64(n))
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	activeSessions.Set(float64(n))
}

func RecordFlush(err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeFlushes.WithLabelValues(result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
