package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the console.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	ServerEvents      *prometheus.CounterVec
	TransportFailures *prometheus.CounterVec
	CredentialErrors  *prometheus.CounterVec
	ClipDuration      prometheus.Histogram
	SessionCostUSD    *prometheus.CounterVec

	startStages *startStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		startStages: newStartStageWindow(256),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active realtime sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		ServerEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_events_total",
			Help:      "Inbound control-channel events by type.",
		}, []string{"type"}),
		TransportFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Transport negotiation and channel failures by stage.",
		}, []string{"stage"}),
		CredentialErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_errors_total",
			Help:      "Credential exchange failures by code.",
		}, []string{"code"}),
		ClipDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clip_duration_seconds",
			Help:      "Duration of captured audio clips in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),
		SessionCostUSD: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cost_usd_total",
			Help:      "Accumulated session cost in USD by provider.",
		}, []string{"provider"}),
	}
}

func (m *Metrics) ObserveClip(d time.Duration) {
	m.ClipDuration.Observe(d.Seconds())
}

// ObserveStartStage records one session-start stage latency.
func (m *Metrics) ObserveStartStage(stage string, d time.Duration) {
	m.startStages.Observe(stage, float64(d.Milliseconds()))
}

// SnapshotStartStages reports rolling percentiles for start stages.
func (m *Metrics) SnapshotStartStages() StartStageSnapshot {
	return m.startStages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
