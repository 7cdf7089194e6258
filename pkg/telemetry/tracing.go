package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the global OpenTelemetry tracer with the gateway's
// pipeline-stage span helpers. No SDK or exporter is configured here: a
// TracerProvider (or the zero-code auto-instrumentation agent) is expected
// to be registered globally by whatever runs the binary, so the gateway's
// own code stays exporter-agnostic and inert by default.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer bound to the given instrumentation name.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// Start begins a span named name, returning the derived context and span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. No-op if err is nil.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceTrustEvaluation starts a span around the trusted-data policy engine's
// per-message evaluation.
func (t *Tracer) TraceTrustEvaluation(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return t.Start(ctx, "trust.evaluate", trace.WithAttributes(attribute.String("agent.id", agentID)))
}

// TraceDualLLMEvaluation starts a span around the isolated secondary-model
// call made by the dual-LLM context evaluator.
func (t *Tracer) TraceDualLLMEvaluation(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.Start(ctx, "dualllm.evaluate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", model)))
}

// TraceInvocationEvaluation starts a span around the tool-invocation policy
// evaluator's decision for one proposed call.
func (t *Tracer) TraceInvocationEvaluation(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("invocation.evaluate %s", toolName),
		trace.WithAttributes(attribute.String("tool.name", toolName)))
}

// TraceQuotaCheck starts a span around the quota enforcement layer's
// pre-request budget check.
func (t *Tracer) TraceQuotaCheck(ctx context.Context, orgID string) (context.Context, trace.Span) {
	return t.Start(ctx, "quota.check", trace.WithAttributes(attribute.String("org.id", orgID)))
}

// TraceUpstreamCall starts a span around the outbound call to the configured
// upstream model provider.
func (t *Tracer) TraceUpstreamCall(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("upstream.%s", provider),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", provider), attribute.String("llm.model", model)))
}
