// Package invocation implements the tool-invocation policy evaluator: once
// the primary model proposes tool calls, it decides whether each call is
// permitted given the current context-trust level and the agent's
// per-tool rules, refusing on the first violation found.
package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/trace"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/repository"
	"github.com/codeready-toolchain/gateway/pkg/telemetry"
)

// Refusal is returned on the first policy violation found across the
// proposed tool calls. AuditPayload wraps UserMessage in metadata tags
// suitable for a persisted record; UserMessage alone is safe to stream.
type Refusal struct {
	Type        string // "tool_invocation", "schema_violation" or "token_cost"
	ToolName    string
	PolicyID    string
	UserMessage string
}

// AuditPayload renders the refusal's audit-tagged form.
func (r Refusal) AuditPayload() string {
	return fmt.Sprintf(`<archestra-refusal type=%q tool=%q reason=%q>%s</archestra-refusal>`,
		r.Type, r.ToolName, r.PolicyID, r.UserMessage)
}

// Evaluator decides whether proposed tool calls may proceed.
type Evaluator struct {
	repo   repository.Repository
	cache  DecisionCache
	tracer *telemetry.Tracer
}

// New builds an Evaluator with no distributed decision cache — every call
// evaluates its policies fresh.
func New(repo repository.Repository) *Evaluator {
	return &Evaluator{repo: repo, cache: noopCache{}}
}

// NewWithCache builds an Evaluator that memoizes policy decisions (but not
// per-call schema validation) in cache.
func NewWithCache(repo repository.Repository, cache DecisionCache) *Evaluator {
	if cache == nil {
		cache = noopCache{}
	}
	return &Evaluator{repo: repo, cache: cache}
}

// SetTracer attaches tracing spans to each call's evaluation. Optional —
// a nil tracer (the default) evaluates without tracing.
func (e *Evaluator) SetTracer(tracer *telemetry.Tracer) { e.tracer = tracer }

// Evaluate checks every proposed call against the agent's tool-invocation
// policies and the tool's own untrusted-data-usage default, in call order.
// The first violation found short-circuits the remaining calls and is
// returned as a Refusal; a nil Refusal means every call may proceed.
func (e *Evaluator) Evaluate(ctx context.Context, agentID string, calls []provider.ToolCall, contextIsTrusted bool) (*Refusal, error) {
	for _, call := range calls {
		refusal, err := e.evaluateCall(ctx, agentID, call, contextIsTrusted)
		if err != nil {
			return nil, err
		}
		if refusal != nil {
			return refusal, nil
		}
	}
	return nil, nil
}

func (e *Evaluator) evaluateCall(ctx context.Context, agentID string, call provider.ToolCall, contextIsTrusted bool) (refusal *Refusal, err error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.TraceInvocationEvaluation(ctx, call.Name)
		defer func() {
			e.tracer.RecordError(span, err)
			span.End()
		}()
	}

	tool, err := e.repo.GetAgentTool(ctx, agentID, call.Name)
	if err != nil && err != repository.ErrNotFound {
		return nil, fmt.Errorf("failed to resolve tool %q: %w", call.Name, err)
	}

	refusal, err = e.policyDecision(ctx, agentID, call.Name, tool, contextIsTrusted)
	if err != nil {
		return nil, err
	}
	if refusal != nil {
		return refusal, nil
	}

	if tool != nil && len(tool.Parameters) > 0 {
		if err := validateArguments(call.Arguments, tool.Parameters); err != nil {
			return &Refusal{
				Type:        "schema_violation",
				ToolName:    call.Name,
				UserMessage: fmt.Sprintf("Tool %q was called with arguments that do not match its declared schema: %s", call.Name, err),
			}, nil
		}
	}

	return nil, nil
}

// policyDecision resolves the tool-invocation-policy and untrusted-data
// outcome for (agentID, toolName) under contextIsTrusted — the part of the
// evaluation that only depends on tool/agent state, not on the specific call
// arguments, and is therefore safe to memoize across replicas.
func (e *Evaluator) policyDecision(ctx context.Context, agentID, toolName string, tool *ent.Tool, contextIsTrusted bool) (*Refusal, error) {
	key := decisionKey(agentID, toolName, contextIsTrusted)
	if cached, ok := e.cache.Get(ctx, key); ok {
		return cached, nil
	}

	policies, err := e.repo.ListToolInvocationPolicies(ctx, agentID, toolName)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool-invocation policies for %q: %w", toolName, err)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })

	var refusal *Refusal
	for _, p := range policies {
		switch string(p.Action) {
		case "require_trusted_context":
			if !contextIsTrusted {
				refusal = refusalFor(toolName, p.ID, p.Description, "requires a trusted context, but untrusted or blocked content is present in this conversation")
			}
		case "block_always":
			refusal = refusalFor(toolName, p.ID, p.Description, "is blocked for this agent")
		}
		if refusal != nil {
			break
		}
	}

	if refusal == nil && tool != nil && !tool.AllowUsageWhenUntrustedDataIsPresent && !contextIsTrusted {
		refusal = refusalFor(toolName, "", "", "cannot be used while untrusted data is present in this conversation")
	}

	e.cache.Set(ctx, key, refusal)
	return refusal, nil
}

// validateArguments checks a proposed call's JSON-encoded arguments against
// the tool's declared parameter schema, refusing calls the model
// hallucinated a shape for rather than letting a malformed call reach a
// managed tool endpoint.
func validateArguments(argumentsJSON string, schemaDoc map[string]interface{}) error {
	if argumentsJSON == "" {
		argumentsJSON = "{}"
	}
	var args interface{}
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool-parameters.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("tool-parameters.json")
	if err != nil {
		return fmt.Errorf("compile declared schema: %w", err)
	}
	return schema.Validate(args)
}

func refusalFor(toolName, policyID, description, fallback string) *Refusal {
	message := description
	if message == "" {
		message = fmt.Sprintf("Tool %q %s.", toolName, fallback)
	}
	return &Refusal{
		Type:        "tool_invocation",
		ToolName:    toolName,
		PolicyID:    policyID,
		UserMessage: message,
	}
}
