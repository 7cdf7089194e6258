// Package telemetry provides the gateway's Prometheus metrics and
// OpenTelemetry tracing instrumentation: refusal/quota-block/dual-LLM
// counters and a pipeline-stage duration histogram exposed at /metrics, plus
// tracing spans around each stage of the streaming proxy orchestrator.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. One instance is built
// at startup and shared by every request.
type Metrics struct {
	// RefusalsTotal counts tool-invocation refusals by reason:
	// "tool_invocation", "schema_violation".
	RefusalsTotal *prometheus.CounterVec

	// QuotaBlocksTotal counts requests rejected by the quota enforcement
	// layer, by the limit kind that triggered the block.
	QuotaBlocksTotal *prometheus.CounterVec

	// DualLLMInvocationsTotal counts isolated secondary-model calls made by
	// the dual-LLM context evaluator, by outcome ("answered"|"error").
	DualLLMInvocationsTotal *prometheus.CounterVec

	// RequestDuration measures end-to-end pipeline duration by provider and
	// outcome ("completed"|"refused"|"error").
	RequestDuration *prometheus.HistogramVec

	// StageDuration measures duration of one pipeline stage ("quota",
	// "trust" (which includes the dual-LLM evaluation), "upstream",
	// "invocation"), for narrowing down where a slow request spent its time.
	StageDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers every collector with the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		RefusalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archestra_gateway_refusals_total",
				Help: "Total number of requests refused by the proxy pipeline, by reason",
			},
			[]string{"reason"},
		),

		QuotaBlocksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archestra_gateway_quota_blocks_total",
				Help: "Total number of requests blocked by the quota enforcement layer, by limit kind",
			},
			[]string{"limit_kind"},
		),

		DualLLMInvocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archestra_gateway_dual_llm_invocations_total",
				Help: "Total number of isolated secondary-model evaluations, by outcome",
			},
			[]string{"outcome"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archestra_gateway_request_duration_seconds",
				Help:    "End-to-end proxy request duration in seconds, by provider and outcome",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "outcome"},
		),

		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archestra_gateway_stage_duration_seconds",
				Help:    "Duration of one pipeline stage in seconds, by stage name",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"stage"},
		),
	}
}

// ObserveStage records dur against the named pipeline stage.
func (m *Metrics) ObserveStage(stage string, dur time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

// ObserveRequest records dur against the completed request's provider and
// outcome.
func (m *Metrics) ObserveRequest(provider, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

// RecordRefusal increments the refusal counter for reason.
func (m *Metrics) RecordRefusal(reason string) {
	if m == nil {
		return
	}
	m.RefusalsTotal.WithLabelValues(reason).Inc()
}

// RecordQuotaBlock increments the quota-block counter for limitKind.
func (m *Metrics) RecordQuotaBlock(limitKind string) {
	if m == nil {
		return
	}
	m.QuotaBlocksTotal.WithLabelValues(limitKind).Inc()
}

// RecordDualLLMInvocation increments the dual-LLM invocation counter for
// outcome.
func (m *Metrics) RecordDualLLMInvocation(outcome string) {
	if m == nil {
		return
	}
	m.DualLLMInvocationsTotal.WithLabelValues(outcome).Inc()
}
