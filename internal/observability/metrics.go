package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	downloadRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Subsystem: "download",
			Name:      "requests_total",
			Help:      "Total ExecuteCommand calls by terminal status.",
		},
		[]string{"node", "download_type", "status"},
	)
	downloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fetchd",
			Subsystem: "download",
			Name:      "request_duration_seconds",
			Help:      "ExecuteCommand pipeline duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"node", "download_type", "status"},
	)
	toolAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Subsystem: "tool",
			Name:      "attempts_total",
			Help:      "External tool attempts, including retries.",
		},
		[]string{"node", "download_type"},
	)
	inflightCalls = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fetchd",
			Subsystem: "download",
			Name:      "inflight_calls",
			Help:      "Currently executing ExecuteCommand calls.",
		},
		[]string{"node"},
	)
)

// RegisterMetrics installs the fetchd collectors exactly once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(downloadRequests, downloadDuration, toolAttempts, inflightCalls)
	})
}

// RecordDownload records one finished ExecuteCommand call.
func RecordDownload(node, downloadType, status string, attempts int, duration time.Duration) {
	RegisterMetrics()
	downloadRequests.WithLabelValues(node, downloadType, status).Inc()
	downloadDuration.WithLabelValues(node, downloadType, status).Observe(duration.Seconds())
	if attempts > 0 {
		toolAttempts.WithLabelValues(node, downloadType).Add(float64(attempts))
	}
}

// TrackInflight adjusts the in-flight call gauge by delta.
func TrackInflight(node string, delta float64) {
	RegisterMetrics()
	inflightCalls.WithLabelValues(node).Add(delta)
}
