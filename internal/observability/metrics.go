package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	WSWriteErrors    *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	SendErrors       *prometheus.CounterVec
	SendLatency      prometheus.Histogram
	RevealJobs       *prometheus.CounterVec
	RevealChunks     prometheus.Counter
	ObserverFailures prometheus.Counter
	RevealDuration   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by operation.",
		}, []string{"op"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Events fanned out to session subscribers by type and result.",
		}, []string{"type", "result"}),
		SendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Failed backend sends by code.",
		}, []string{"code"}),
		SendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_latency_ms",
			Help:      "Backend round-trip latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}),
		RevealJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveal_jobs_total",
			Help:      "Reveal jobs by outcome.",
		}, []string{"outcome"}),
		RevealChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveal_chunks_total",
			Help:      "Chunks emitted by reveal jobs.",
		}),
		ObserverFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reveal_observer_failures_total",
			Help:      "Chunks the observer failed to present.",
		}),
		RevealDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reveal_duration_ms",
			Help:      "Wall time from job start to completion in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError(op string) {
	if m == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveSend(d time.Duration, code string) {
	if m == nil {
		return
	}
	m.SendLatency.Observe(float64(d.Milliseconds()))
	if code != "" {
		m.SendErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ObserveRevealJob(outcome string) {
	if m == nil {
		return
	}
	m.RevealJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRevealChunk() {
	if m == nil {
		return
	}
	m.RevealChunks.Inc()
}

func (m *Metrics) ObserveObserverFailure() {
	if m == nil {
		return
	}
	m.ObserverFailures.Inc()
}

func (m *Metrics) ObserveRevealDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RevealDuration.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
