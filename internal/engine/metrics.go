package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xela07ax/purposegate/internal/domain"
)

// unresolvedTool значение label "tool", когда инструмент не подтвержден реестром.
// Иначе любой клиент может раздуть кардинальность, присылая мусорные tool.
const unresolvedTool = "_unresolved"

// Внутренняя таксономия ошибок. Клиенту уходит только Reason.
const (
	ErrTypeMalformedRequest   = "malformed_request"
	ErrTypeMissingCredential  = "missing_credential"
	ErrTypeVerificationFailed = "verification_failed"
	ErrTypeIdentityUnresolved = "identity_unresolved"
)

type Metrics struct {
	reg prometheus.Registerer

	// Traffic: решения по инструменту, исходу и причине
	Decisions *prometheus.CounterVec

	// Latency: полное время принятия решения (включая проверку токена)
	DecisionDuration *prometheus.HistogramVec

	// Errors: внутренняя классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Размер активного снимка политик
	PoliciesLoaded prometheus.Gauge

	// Audit: сколько событий сброшено из-за переполнения буфера
	AuditDropped prometheus.Counter

	// Saturation: состояние Circuit Breaker к JWKS (0 - ок, 1 - выбило)
	JWKSBreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		reg: reg,

		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "purposegate_decisions_total",
			Help: "Total number of access decisions.",
		}, []string{"tool", "outcome", "reason"}),

		DecisionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "purposegate_decision_duration_seconds",
			Help:    "Histogram of decision latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"outcome"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "purposegate_errors_total",
			Help: "Total number of internal errors by type.",
		}, []string{"type"}), // типы: malformed_request, missing_credential, verification_failed, identity_unresolved

		PoliciesLoaded: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "purposegate_policies_loaded",
			Help: "Number of tool policies in the active snapshot.",
		}),

		AuditDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "purposegate_audit_dropped_total",
			Help: "Audit events dropped because the buffer was full.",
		}),

		JWKSBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "purposegate_jwks_breaker_state",
			Help: "Current state of the JWKS circuit breaker (0=closed, 1=open).",
		}),
	}
}

// WatchAuditBuffer экспортирует заполненность буфера аудита (backpressure).
func (m *Metrics) WatchAuditBuffer(pending func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "purposegate_audit_buffer_utilization",
		Help: "Current number of events in audit buffer.",
	}, func() float64 { return float64(pending()) })
}

func (m *Metrics) ObserveDecision(toolID string, d domain.Decision, took time.Duration) {
	outcome := outcomeLabel(d)
	reason := string(d.Reason)
	if reason == "" {
		reason = "none"
	}
	m.Decisions.WithLabelValues(toolLabel(toolID, d), outcome, reason).Inc()
	m.DecisionDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) IncError(errType string) {
	m.ErrorTotal.WithLabelValues(errType).Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.JWKSBreakerState.Set(1)
		return
	}
	m.JWKSBreakerState.Set(0)
}

func outcomeLabel(d domain.Decision) string {
	if d.Allowed {
		return "allow"
	}
	return "deny"
}

// toolLabel tool попадает в метрики, только если он точно есть в реестре
func toolLabel(toolID string, d domain.Decision) string {
	if d.Allowed {
		return toolID
	}
	switch d.Reason {
	case domain.ReasonCallerNotAllowed, domain.ReasonPurposeMismatch:
		return toolID
	}
	return unresolvedTool
}
