// Package proxy implements the streaming proxy orchestrator: the request
// lifecycle shared by the Anthropic- and OpenAI-compatible handlers —
// quota pre-check, tool upsert, trust evaluation, the dual-LLM sandbox,
// tool-invocation evaluation, the upstream call, and persistence.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/dualllm"
	"github.com/codeready-toolchain/gateway/pkg/events"
	"github.com/codeready-toolchain/gateway/pkg/invocation"
	"github.com/codeready-toolchain/gateway/pkg/mcpclient"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/quota"
	"github.com/codeready-toolchain/gateway/pkg/redact"
	"github.com/codeready-toolchain/gateway/pkg/repository"
	"github.com/codeready-toolchain/gateway/pkg/telemetry"
	"github.com/codeready-toolchain/gateway/pkg/trust"
)

// dualLLMQuestion is the fixed framing question put to the secondary model
// for every isolated tool-result blob; the finite candidate table (per tool)
// supplies the answer space.
const dualLLMQuestion = "What is the single most relevant piece of information in this content, relative to the options given?"

// Orchestrator drives the provider-agnostic request lifecycle. One instance
// is shared across both wire-protocol handlers.
type Orchestrator struct {
	repo        repository.Repository
	trust       *trust.Engine
	dualLLM     *dualllm.Evaluator
	invocation  *invocation.Evaluator
	quota       *quota.Enforcer
	newTools    func() mcpclient.Executor
	broadcaster *events.Broadcaster
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	logger      *slog.Logger
}

// New builds an Orchestrator. newTools constructs a fresh managed-tool
// executor per request, so MCP sessions never outlive the request that
// opened them.
func New(
	repo repository.Repository,
	trustEngine *trust.Engine,
	dualLLM *dualllm.Evaluator,
	invocationEvaluator *invocation.Evaluator,
	quotaEnforcer *quota.Enforcer,
	newTools func() mcpclient.Executor,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		repo:       repo,
		trust:      trustEngine,
		dualLLM:    dualLLM,
		invocation: invocationEvaluator,
		quota:      quotaEnforcer,
		newTools:   newTools,
		tracer:     telemetry.NewTracer("archestra-gateway"),
		logger:     logger,
	}
}

// SetBroadcaster attaches the live admin trace broadcaster. Optional — a nil
// broadcaster (the default) means completed/refused interactions are only
// available via the polling REST trace endpoints.
func (o *Orchestrator) SetBroadcaster(b *events.Broadcaster) {
	o.broadcaster = b
}

// SetMetrics attaches the Prometheus collectors backing /metrics. Optional —
// a nil Metrics (the default) means every recording call is a no-op.
func (o *Orchestrator) SetMetrics(m *telemetry.Metrics) {
	o.metrics = m
}

// Declaration mirrors repository.ToolDeclaration but is owned by the wire
// layer, which builds it from the inbound request's tool list before any
// agent-scoped defaults are known.
type Declaration = repository.ToolDeclaration

// Outcome is everything a wire handler needs to render a final response: a
// refusal short-circuits with a provider-shaped refusal body instead of
// Response. Per spec, refusals are 200 responses, never HTTP errors.
type Outcome struct {
	Refusal  *invocation.Refusal
	Response *provider.Response

	// DualLLMProgress is forwarded to the caller for streaming requests, so
	// a "dual-LLM started" event and one event per tuple can be emitted
	// before the primary call. Empty when the context was already trusted.
	DualLLMProgress []dualllm.ProgressEvent
}

// upstream abstracts the two provider clients the proxy drives, selected by
// the handler based on the route.
type upstream interface {
	Generate(ctx context.Context, req *provider.Request) (*provider.Response, error)
	Stream(ctx context.Context, req *provider.Request) (<-chan provider.Chunk, error)
}

// RequestContext carries everything the orchestrator needs that the wire
// layer extracts from the HTTP request: the path/header-derived agent hint,
// the conversation identity, the already-decoded provider request, and the
// inbound tool declarations (merged with agent-managed tools before upstream
// dispatch).
type RequestContext struct {
	AgentIDHint  string // path param, empty if absent
	UserAgent    string // derived-default-agent fallback key
	ChatID       string
	ProviderName string // "anthropic" | "openai", used for the persisted interaction type
	Req          *provider.Request
	ToolDecls    []Declaration
	TeamIDs      []string
	Upstream     upstream

	// UpstreamAPIKey is the caller-supplied upstream credential (the
	// x-api-key or Authorization header value, stripped of any scheme
	// prefix) — the BYOK model requires the dual-LLM secondary call to
	// reuse exactly this key rather than a server-side one.
	UpstreamAPIKey string
}

// Handle runs the full non-streaming lifecycle (spec §4.6 steps 1-4, 7-9).
func (o *Orchestrator) Handle(ctx context.Context, rc RequestContext) (outcome *Outcome, err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "proxy.handle")
	defer func() {
		o.tracer.RecordError(span, err)
		span.End()
		o.metrics.ObserveRequest(rc.ProviderName, requestOutcome(outcome, err), time.Since(start))
	}()

	agentID, err := o.resolveAgent(ctx, rc.AgentIDHint, rc.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}
	if _, err := o.repo.GetOrCreateChat(ctx, agentID, rc.ChatID); err != nil {
		return nil, fmt.Errorf("resolve chat: %w", err)
	}

	quotaStart := time.Now()
	qctx, qspan := o.tracer.TraceQuotaCheck(ctx, agentID)
	refusal, limits, err := o.quota.PreCheck(qctx, agentID, rc.TeamIDs)
	o.tracer.RecordError(qspan, err)
	qspan.End()
	o.metrics.ObserveStage("quota", time.Since(quotaStart))
	if err != nil {
		return nil, fmt.Errorf("quota pre-check: %w", err)
	}
	if refusal != nil {
		o.metrics.RecordQuotaBlock(refusal.Type)
		o.persistRefusal(ctx, agentID, rc.ChatID, rc.ProviderName, rc.Req, *refusal, time.Since(start))
		return &Outcome{Refusal: refusal}, nil
	}

	if err := o.upsertTools(ctx, agentID, rc.ToolDecls); err != nil {
		return nil, fmt.Errorf("upsert tools: %w", err)
	}

	tools, err := o.repo.ListAgentTools(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent tools: %w", err)
	}
	rc.Req.Tools = mergeManagedTools(rc.Req.Tools, tools)

	trustStart := time.Now()
	contextIsTrusted, progress, err := o.evaluateTrust(ctx, agentID, rc.ChatID, rc.Req.Messages, rc.UpstreamAPIKey)
	o.metrics.ObserveStage("trust", time.Since(trustStart))
	if err != nil {
		return nil, fmt.Errorf("evaluate trust: %w", err)
	}

	filtered, err := o.trust.FilterOutBlockedData(ctx, rc.ChatID, rc.Req.Messages)
	if err != nil {
		return nil, fmt.Errorf("filter blocked data: %w", err)
	}
	rc.Req.Messages = filtered

	upstreamStart := time.Now()
	uctx, uspan := o.tracer.TraceUpstreamCall(ctx, rc.ProviderName, rc.Req.Model)
	resp, err := rc.Upstream.Generate(uctx, rc.Req)
	o.tracer.RecordError(uspan, err)
	uspan.End()
	o.metrics.ObserveStage("upstream", time.Since(upstreamStart))
	if err != nil {
		return nil, fmt.Errorf("upstream generate: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		invocationStart := time.Now()
		invocationRefusal, err := o.invocation.Evaluate(ctx, agentID, resp.ToolCalls, contextIsTrusted)
		o.metrics.ObserveStage("invocation", time.Since(invocationStart))
		if err != nil {
			return nil, fmt.Errorf("evaluate invocation: %w", err)
		}
		if invocationRefusal != nil {
			o.metrics.RecordRefusal(invocationRefusal.Type)
			o.persistRefusal(ctx, agentID, rc.ChatID, rc.ProviderName, rc.Req, *invocationRefusal, time.Since(start))
			return &Outcome{Refusal: invocationRefusal, DualLLMProgress: progress}, nil
		}

		resp, err = o.runManagedToolFollowUp(ctx, agentID, rc, resp, tools)
		if err != nil {
			return nil, fmt.Errorf("managed tool follow-up: %w", err)
		}
	}

	o.persistCompletion(ctx, agentID, rc.ChatID, rc.ProviderName, rc.Req, resp, time.Since(start))
	o.quota.Dispatch(limits, int64(resp.InputTokens), int64(resp.OutputTokens))

	return &Outcome{Response: resp, DualLLMProgress: progress}, nil
}

// dualLLMOutcome labels one isolated secondary-model call for the dual-LLM
// invocation counter: an empty Answer means askSecondary failed closed.
func dualLLMOutcome(e dualllm.ProgressEvent) string {
	if e.Answer == "" {
		return "error"
	}
	return "answered"
}

// requestOutcome labels a completed Handle call for the request-duration
// histogram.
func requestOutcome(outcome *Outcome, err error) string {
	switch {
	case err != nil:
		return "error"
	case outcome != nil && outcome.Refusal != nil:
		return "refused"
	default:
		return "completed"
	}
}

func (o *Orchestrator) resolveAgent(ctx context.Context, agentIDHint, userAgent string) (string, error) {
	if agentIDHint != "" {
		a, err := o.repo.GetAgent(ctx, agentIDHint)
		if err != nil {
			return "", err
		}
		return a.ID, nil
	}
	name := userAgent
	if name == "" {
		name = "default"
	}
	a, err := o.repo.GetOrCreateDefaultAgent(ctx, name)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func (o *Orchestrator) upsertTools(ctx context.Context, agentID string, decls []Declaration) error {
	for _, d := range decls {
		d.AgentID = agentID
		if _, err := o.repo.UpsertTool(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// evaluateTrust runs the trusted-data policy pass over every tool-result
// message, then isolates whatever remains untrusted-but-not-blocked through
// the dual-LLM evaluator, returning the conversation's overall trust state
// and the progress tuples a streaming caller should forward.
func (o *Orchestrator) evaluateTrust(ctx context.Context, agentID, chatID string, messages []provider.Message, upstreamAPIKey string) (bool, []dualllm.ProgressEvent, error) {
	tctx, tspan := o.tracer.TraceTrustEvaluation(ctx, agentID)
	classifications, err := o.trust.EvaluatePolicies(tctx, agentID, chatID, messages)
	o.tracer.RecordError(tspan, err)
	tspan.End()
	if err != nil {
		return false, nil, err
	}

	// A tool message with no resolvable classification (malformed
	// conversation, already logged by EvaluatePolicies) is left out of the
	// pending set — there is nothing to isolate.
	byCallID := make(map[string]trust.Classification, len(classifications))
	for _, c := range classifications {
		byCallID[c.ToolCallID] = c
	}

	var pending []dualllm.PendingContent
	anyBlockedOrUntrusted := false
	for _, m := range messages {
		if m.Role != provider.RoleTool {
			continue
		}
		c, ok := byCallID[m.ToolCallID]
		if !ok {
			continue
		}
		if c.Blocked {
			anyBlockedOrUntrusted = true
			continue
		}
		if !c.EffectiveTrusted() {
			anyBlockedOrUntrusted = true
			pending = append(pending, dualllm.PendingContent{ToolCallID: m.ToolCallID, ToolName: c.ToolName, Content: m.Content})
		}
	}

	evalCtx := ctx
	var dspan trace.Span
	if len(pending) > 0 {
		evalCtx, dspan = o.tracer.TraceDualLLMEvaluation(ctx, o.dualLLM.Model())
	}
	events := make(chan dualllm.ProgressEvent, len(pending))
	result := o.dualLLM.Evaluate(evalCtx, dualLLMQuestion, pending, events, upstreamAPIKey)
	close(events)
	if dspan != nil {
		dspan.End()
	}

	var collected []dualllm.ProgressEvent
	for e := range events {
		collected = append(collected, e)
		o.metrics.RecordDualLLMInvocation(dualLLMOutcome(e))
	}

	for i, m := range messages {
		if rewrite, ok := result.ToolResultRewrites[m.ToolCallID]; ok {
			messages[i].Content = rewrite
		}
	}

	// The conversation's trust state is true iff it contains no untrusted
	// AND no blocked tool messages — a blocked-only conversation (nothing
	// pending for the dual-LLM evaluator, so result.ContextIsTrusted would
	// read true) must still report untrusted overall.
	return !anyBlockedOrUntrusted, collected, nil
}

// runManagedToolFollowUp executes every proposed call backed by a managed
// tool endpoint, feeds the results back as tool messages, and re-calls the
// upstream provider once more for the final response (spec §4.6 step 8).
func (o *Orchestrator) runManagedToolFollowUp(ctx context.Context, agentID string, rc RequestContext, resp *provider.Response, agentTools []*ent.Tool) (*provider.Response, error) {
	managed := make(map[string]string, len(agentTools)) // tool name -> endpoint
	for _, t := range agentTools {
		if t.Endpoint != "" {
			managed[t.Name] = t.Endpoint
		}
	}

	var toExecute []provider.ToolCall
	for _, call := range resp.ToolCalls {
		if _, ok := managed[call.Name]; ok {
			toExecute = append(toExecute, call)
		}
	}
	if len(toExecute) == 0 {
		return resp, nil
	}

	executor := o.newTools()
	defer func() {
		if err := executor.Close(); err != nil {
			o.logger.Warn("proxy: closing tool executor", "error", err)
		}
	}()

	assistantMsg := provider.Message{Role: provider.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls}
	followUp := append(append([]provider.Message{}, rc.Req.Messages...), assistantMsg)

	for _, call := range toExecute {
		result, err := executor.Execute(ctx, call, managed[call.Name])
		if err != nil {
			return resp, fmt.Errorf("execute managed tool %q: %w", call.Name, err)
		}
		followUp = append(followUp, provider.Message{
			Role:       provider.RoleTool,
			Content:    result.Content,
			ToolCallID: result.CallID,
			ToolName:   result.Name,
		})
	}

	req2 := *rc.Req
	req2.Messages = followUp
	return rc.Upstream.Generate(ctx, &req2)
}

func (o *Orchestrator) persistCompletion(ctx context.Context, agentID, chatID, providerName string, req *provider.Request, resp *provider.Response, elapsed time.Duration) {
	durMs := int(elapsed.Milliseconds())
	in, out := resp.InputTokens, resp.OutputTokens
	reqEnv, respEnv := redact.Map(requestEnvelope(req)), redact.Map(responseEnvelope(resp))
	// The assistant message is kept in the OpenAI message shape, so a later
	// request of this chat can resolve which tool a tool result answers.
	calls := make([]interface{}, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		calls = append(calls, map[string]interface{}{
			"id":       tc.ID,
			"type":     "function",
			"function": map[string]interface{}{"name": tc.Name, "arguments": tc.Arguments},
		})
	}
	content := redact.Map(map[string]interface{}{"role": "assistant", "content": resp.Text, "tool_calls": calls})
	_, err := o.repo.CreateInteraction(ctx, repository.CreateInteractionInput{
		AgentID:      agentID,
		ChatID:       &chatID,
		Type:         providerName,
		Request:      reqEnv,
		Response:     respEnv,
		Content:      content,
		InputTokens:  &in,
		OutputTokens: &out,
		DurationMs:   &durMs,
	})
	if err != nil {
		o.logger.Error("proxy: failed to persist completed interaction", "error", err)
	}
	o.publishTrace(chatID, agentID, providerName, reqEnv, respEnv)
}

func (o *Orchestrator) persistRefusal(ctx context.Context, agentID, chatID, providerName string, req *provider.Request, refusal invocation.Refusal, elapsed time.Duration) {
	durMs := int(elapsed.Milliseconds())
	reqEnv := redact.Map(requestEnvelope(req))
	respEnv := map[string]interface{}{"refusal_type": refusal.Type, "message": refusal.UserMessage}
	_, err := o.repo.CreateInteraction(ctx, repository.CreateInteractionInput{
		AgentID:    agentID,
		ChatID:     &chatID,
		Type:       providerName + ":refusal",
		Request:    reqEnv,
		Response:   respEnv,
		Reason:     refusal.AuditPayload(),
		DurationMs: &durMs,
	})
	if err != nil {
		o.logger.Error("proxy: failed to persist refusal interaction", "error", err)
	}
	o.publishTrace(chatID, agentID, providerName+":refusal", reqEnv, respEnv)
}

func (o *Orchestrator) publishTrace(chatID, agentID, eventType string, reqEnv, respEnv map[string]interface{}) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.Publish(events.TraceEvent{
		ChatID:  chatID,
		AgentID: agentID,
		Type:    eventType,
		Interaction: map[string]interface{}{
			"request":  reqEnv,
			"response": respEnv,
		},
	})
}

func requestEnvelope(req *provider.Request) map[string]interface{} {
	data, _ := json.Marshal(req)
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}

func responseEnvelope(resp *provider.Response) map[string]interface{} {
	data, _ := json.Marshal(resp)
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	return m
}

// mergeManagedTools overlays the agent's managed tools onto the request's
// declared tools; a managed tool wins on name collision (spec §4.6 step 3).
func mergeManagedTools(declared []provider.ToolDefinition, managed []*ent.Tool) []provider.ToolDefinition {
	byName := make(map[string]provider.ToolDefinition, len(declared)+len(managed))
	order := make([]string, 0, len(declared)+len(managed))
	for _, d := range declared {
		if _, exists := byName[d.Name]; !exists {
			order = append(order, d.Name)
		}
		byName[d.Name] = d
	}
	for _, t := range managed {
		if _, exists := byName[t.Name]; !exists {
			order = append(order, t.Name)
		}
		schema, _ := json.Marshal(t.Parameters)
		byName[t.Name] = provider.ToolDefinition{
			Name:             t.Name,
			Description:      t.Description,
			ParametersSchema: schema,
		}
	}
	out := make([]provider.ToolDefinition, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}
