// Package observability holds the Prometheus instruments the gateway exports.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pii_shield"

// Request status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusBlocked = "blocked"
)

// Metrics tracks chat mediation.
//
// Metrics:
//   - pii_shield_chat_requests_total: chat requests by final status
//   - pii_shield_chat_latency_seconds: end-to-end latency of successful requests
//   - pii_shield_upstream_latency_seconds: time spent waiting on the upstream provider
//   - pii_shield_pii_redactions_total: requests in which a PII label fired, by label
//   - pii_shield_blocked_requests_total: policy denials by rule
//   - pii_shield_chat_errors_total: failed requests by error type
//   - pii_shield_audit_write_failures_total: audit records that could not be persisted
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	chatLatency        prometheus.Histogram
	upstreamLatency    prometheus.Histogram
	redactionsTotal    *prometheus.CounterVec
	blockedTotal       *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	auditWriteFailures prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_requests_total",
				Help:      "Count of chat completion requests processed",
			},
			[]string{"status"},
		),
		chatLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_latency_seconds",
				Help:      "Latency for chat completion requests in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		upstreamLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_latency_seconds",
				Help:      "Latency of upstream provider calls in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		redactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pii_redactions_total",
				Help:      "Requests in which a PII type was redacted",
			},
			[]string{"pii_type"},
		),
		blockedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocked_requests_total",
				Help:      "Requests denied by the policy gate",
			},
			[]string{"reason"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_errors_total",
				Help:      "Chat completion failures by error type",
			},
			[]string{"error_type"},
		),
		auditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit records that failed to persist",
			},
		),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.chatLatency,
		m.upstreamLatency,
		m.redactionsTotal,
		m.blockedTotal,
		m.errorsTotal,
		m.auditWriteFailures,
	)
	return m
}

// ObserveSuccess records a completed request.
func (m *Metrics) ObserveSuccess(latencySeconds float64, labels []string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(StatusSuccess).Inc()
	m.chatLatency.Observe(latencySeconds)
	for _, l := range labels {
		m.redactionsTotal.WithLabelValues(l).Inc()
	}
}

// ObserveUpstream records the duration of one upstream call.
func (m *Metrics) ObserveUpstream(latencySeconds float64) {
	if m == nil {
		return
	}
	m.upstreamLatency.Observe(latencySeconds)
}

// ObserveBlocked records a policy denial.
func (m *Metrics) ObserveBlocked(rule string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(StatusBlocked).Inc()
	m.blockedTotal.WithLabelValues(rule).Inc()
}

// ObserveError records a failed request.
func (m *Metrics) ObserveError(errorType string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(StatusError).Inc()
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveAuditFailure records an audit write that did not persist.
func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}
