package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSuccess(0.2, []string{"email", "phone"})
	m.ObserveSuccess(0.3, []string{"email"})
	m.ObserveUpstream(0.15)
	m.ObserveBlocked("model_allowlist")
	m.ObserveError("upstream_unreachable")
	m.ObserveAuditFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(StatusBlocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(StatusError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.redactionsTotal.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redactionsTotal.WithLabelValues("phone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockedTotal.WithLabelValues("model_allowlist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("upstream_unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditWriteFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"pii_shield_chat_requests_total",
		"pii_shield_chat_latency_seconds",
		"pii_shield_upstream_latency_seconds",
		"pii_shield_pii_redactions_total",
		"pii_shield_blocked_requests_total",
		"pii_shield_chat_errors_total",
		"pii_shield_audit_write_failures_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSuccess(1, []string{"email"})
		m.ObserveUpstream(1)
		m.ObserveBlocked("x")
		m.ObserveError("x")
		m.ObserveAuditFailure()
	})
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
