package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/dualllm"
	"github.com/codeready-toolchain/gateway/pkg/invocation"
	"github.com/codeready-toolchain/gateway/pkg/provider"
)

// StreamEventType identifies the kind of provider-agnostic streaming event
// HandleStreaming emits; the wire handler renders each into the provider's
// native SSE event shape.
type StreamEventType string

// Event kinds emitted on the channel returned by HandleStreaming.
const (
	StreamEventDualLLMStarted  StreamEventType = "dual_llm_started"
	StreamEventDualLLMProgress StreamEventType = "dual_llm_progress"
	StreamEventText            StreamEventType = "text_delta"
	StreamEventToolUse         StreamEventType = "tool_use"
	StreamEventRefusal         StreamEventType = "refusal"
	StreamEventMessageDelta    StreamEventType = "message_delta"
	StreamEventStop            StreamEventType = "message_stop"
	StreamEventError           StreamEventType = "error"
)

// StreamEvent is one provider-agnostic streaming event.
type StreamEvent struct {
	Type StreamEventType

	TextDelta string
	Progress  dualllm.ProgressEvent

	ToolCallID   string
	ToolName     string
	ToolArgsJSON string

	Refusal *invocation.Refusal

	StopReason   string
	InputTokens  int
	OutputTokens int

	Err error
}

// bufferedToolCall accumulates one tool_call's input_json_delta fragments
// until the upstream chunk stream ends (spec §4.6 step 6).
type bufferedToolCall struct {
	id, name string
	args     string
}

// HandleStreaming runs the streaming lifecycle (spec §4.6 steps 1-7, 9-10).
// Managed-tool follow-up (step 8) is a non-streaming-only concern: a
// streaming caller sees its own proposed tool_use events flushed (or
// suppressed on refusal) and is responsible for executing them client-side,
// matching the wire protocols' native streaming contract.
func (o *Orchestrator) HandleStreaming(ctx context.Context, rc RequestContext) (<-chan StreamEvent, error) {
	start := time.Now()
	out := make(chan StreamEvent, 16)

	agentID, err := o.resolveAgent(ctx, rc.AgentIDHint, rc.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}
	if _, err := o.repo.GetOrCreateChat(ctx, agentID, rc.ChatID); err != nil {
		return nil, fmt.Errorf("resolve chat: %w", err)
	}

	refusal, limits, err := o.quota.PreCheck(ctx, agentID, rc.TeamIDs)
	if err != nil {
		return nil, fmt.Errorf("quota pre-check: %w", err)
	}
	if refusal != nil {
		o.persistRefusal(ctx, agentID, rc.ChatID, rc.ProviderName, rc.Req, *refusal, time.Since(start))
		go func() {
			defer close(out)
			out <- StreamEvent{Type: StreamEventRefusal, Refusal: refusal}
			out <- StreamEvent{Type: StreamEventStop, StopReason: "refusal"}
		}()
		return out, nil
	}

	if err := o.upsertTools(ctx, agentID, rc.ToolDecls); err != nil {
		return nil, fmt.Errorf("upsert tools: %w", err)
	}
	tools, err := o.repo.ListAgentTools(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent tools: %w", err)
	}
	rc.Req.Tools = mergeManagedTools(rc.Req.Tools, tools)

	contextIsTrusted, progress, err := o.evaluateTrust(ctx, agentID, rc.ChatID, rc.Req.Messages, rc.UpstreamAPIKey)
	if err != nil {
		return nil, fmt.Errorf("evaluate trust: %w", err)
	}
	filtered, err := o.trust.FilterOutBlockedData(ctx, rc.ChatID, rc.Req.Messages)
	if err != nil {
		return nil, fmt.Errorf("filter blocked data: %w", err)
	}
	rc.Req.Messages = filtered

	chunks, err := rc.Upstream.Stream(ctx, rc.Req)
	if err != nil {
		return nil, fmt.Errorf("upstream stream: %w", err)
	}

	go o.runStreaming(ctx, agentID, rc, chunks, progress, contextIsTrusted, limits, start, out)

	return out, nil
}

// runStreaming consumes the upstream chunk channel, buffering tool-use
// blocks until the channel closes, then runs tool-invocation evaluation on the
// accumulated proposals before flushing (or suppressing) them.
func (o *Orchestrator) runStreaming(
	ctx context.Context,
	agentID string,
	rc RequestContext,
	chunks <-chan provider.Chunk,
	progress []dualllm.ProgressEvent,
	contextIsTrusted bool,
	limits []*ent.Limit,
	start time.Time,
	out chan<- StreamEvent,
) {
	defer close(out)

	if len(progress) > 0 {
		out <- StreamEvent{Type: StreamEventDualLLMStarted}
		for _, p := range progress {
			out <- StreamEvent{Type: StreamEventDualLLMProgress, Progress: p}
		}
	}

	var (
		text       string
		buffers    = map[int]*bufferedToolCall{}
		order      []int
		stopReason string
		inTok      int
		outTok     int
	)

	for chunk := range chunks {
		switch chunk.Type {
		case provider.ChunkTypeText:
			text += chunk.TextDelta
			out <- StreamEvent{Type: StreamEventText, TextDelta: chunk.TextDelta}

		case provider.ChunkTypeToolCall:
			buf, ok := buffers[chunk.CallIndex]
			if !ok {
				buf = &bufferedToolCall{id: chunk.CallID, name: chunk.CallName}
				buffers[chunk.CallIndex] = buf
				order = append(order, chunk.CallIndex)
			}
			buf.args += chunk.ArgsDelta
			if chunk.CallID != "" {
				buf.id = chunk.CallID
			}
			if chunk.CallName != "" {
				buf.name = chunk.CallName
			}

		case provider.ChunkTypeUsage:
			inTok, outTok = chunk.InputTokens, chunk.OutputTokens

		case provider.ChunkTypeStop:
			stopReason = chunk.StopReason

		case provider.ChunkTypeError:
			out <- StreamEvent{Type: StreamEventError, Err: chunk.Err}
			return
		}
	}

	calls := make([]provider.ToolCall, 0, len(order))
	for _, idx := range order {
		buf := buffers[idx]
		calls = append(calls, provider.ToolCall{ID: buf.id, Name: buf.name, Arguments: buf.args})
	}

	resp := &provider.Response{Text: text, ToolCalls: calls, StopReason: stopReason, InputTokens: inTok, OutputTokens: outTok}

	if len(calls) > 0 {
		refusal, err := o.invocation.Evaluate(ctx, agentID, calls, contextIsTrusted)
		if err != nil {
			out <- StreamEvent{Type: StreamEventError, Err: fmt.Errorf("evaluate invocation: %w", err)}
			return
		}
		if refusal != nil {
			o.persistRefusal(ctx, agentID, rc.ChatID, rc.ProviderName, rc.Req, *refusal, time.Since(start))
			out <- StreamEvent{Type: StreamEventRefusal, Refusal: refusal}
			out <- StreamEvent{Type: StreamEventMessageDelta, StopReason: "refusal"}
			out <- StreamEvent{Type: StreamEventStop}
			return
		}

		for _, idx := range order {
			buf := buffers[idx]
			out <- StreamEvent{Type: StreamEventToolUse, ToolCallID: buf.id, ToolName: buf.name, ToolArgsJSON: normalizeArgs(buf.args)}
		}
	}

	o.persistCompletion(ctx, agentID, rc.ChatID, rc.ProviderName, rc.Req, resp, time.Since(start))
	o.quota.Dispatch(limits, int64(inTok), int64(outTok))

	out <- StreamEvent{Type: StreamEventMessageDelta, StopReason: stopReason, InputTokens: inTok, OutputTokens: outTok}
	out <- StreamEvent{Type: StreamEventStop}
}

func normalizeArgs(raw string) string {
	if raw == "" {
		return "{}"
	}
	if !json.Valid([]byte(raw)) {
		return "{}"
	}
	return raw
}
