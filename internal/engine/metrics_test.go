package engine

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/purposegate/internal/domain"
)

func TestToolLabel(t *testing.T) {
	assert.Equal(t, "cal", toolLabel("cal", domain.Allow("cal", "p")))
	assert.Equal(t, "cal", toolLabel("cal", domain.Deny(domain.ReasonCallerNotAllowed)))
	assert.Equal(t, "cal", toolLabel("cal", domain.Deny(domain.ReasonPurposeMismatch)))
	assert.Equal(t, unresolvedTool, toolLabel("cal", domain.Deny(domain.ReasonUnknownTool)))
	assert.Equal(t, unresolvedTool, toolLabel("cal", domain.Deny(domain.ReasonMissingCredential)))
	assert.Equal(t, unresolvedTool, toolLabel("cal", domain.Deny(domain.ReasonUnresolvableIdentity)))
}

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	pending := 7
	m.WatchAuditBuffer(func() int { return pending })
	m.SetBreakerOpen(true)
	m.ObserveDecision("cal", domain.Allow("cal", "p"), time.Millisecond)
	m.AuditDropped.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JWKSBreakerState))
	m.SetBreakerOpen(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.JWKSBreakerState))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, n := range []string{
		"purposegate_decisions_total",
		"purposegate_decision_duration_seconds",
		"purposegate_audit_dropped_total",
		"purposegate_jwks_breaker_state",
		"purposegate_audit_buffer_utilization",
		"purposegate_policies_loaded",
	} {
		assert.True(t, names[n], n)
	}
}
