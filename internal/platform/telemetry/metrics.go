// Package telemetry holds the Prometheus collectors exported on /metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InsuranceMetrics counts insurer calls and audit write failures. A nil
// *InsuranceMetrics is valid and records nothing.
type InsuranceMetrics struct {
	callsTotal          *prometheus.CounterVec
	callDuration        *prometheus.HistogramVec
	auditWriteFailures  prometheus.Counter
	submissionConflicts prometheus.Counter
}

func NewInsuranceMetrics(reg prometheus.Registerer) *InsuranceMetrics {
	m := &InsuranceMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "afyalink",
			Name:      "calls_total",
			Help:      "Total insurer API calls by action and outcome",
		}, []string{"action", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hms",
			Subsystem: "afyalink",
			Name:      "call_duration_seconds",
			Help:      "Latency of insurer API calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
		auditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "afyalink",
			Name:      "audit_write_failures_total",
			Help:      "Audit log rows that could not be persisted",
		}),
		submissionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "afyalink",
			Name:      "submission_conflicts_total",
			Help:      "Claim submissions refused because the invoice was locked or already claimed",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.callDuration, m.auditWriteFailures, m.submissionConflicts)
	return m
}

// Call outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport_error"
)

func (m *InsuranceMetrics) ObserveCall(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(action, outcome).Inc()
	m.callDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *InsuranceMetrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.auditWriteFailures.Inc()
}

func (m *InsuranceMetrics) SubmissionConflict() {
	if m == nil {
		return
	}
	m.submissionConflicts.Inc()
}
