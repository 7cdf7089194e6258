// Package trust implements the trusted-data policy engine: for every
// tool-result message flowing back into the model, it classifies the
// content as trusted, untrusted, or blocked against attribute-path
// policies, and records the classification on a persisted interaction.
package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/attrpath"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/redact"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

const noMatchReason = "content does not match any trust policies"

// Classification is the persisted trust verdict for one tool-result
// message, keyed by the tool_call_id it answers.
type Classification struct {
	ToolCallID string
	ToolName   string
	Trusted    bool
	Blocked    bool
	Reason     string

	// DataIsTrustedByDefault and HasPolicies mirror the originating tool's
	// configuration at classification time, letting downstream consumers
	// apply the tool-default rule documented at Classification.EffectiveTrusted.
	DataIsTrustedByDefault bool
	HasPolicies            bool
}

// EffectiveTrusted applies the tool-default rule: a tool declared
// dataIsTrustedByDefault=true with no trusted-data policies attached is
// treated as trusted by downstream consumers even though the persisted
// classification remains (trusted=false, blocked=false). The persisted
// flag always reflects policy match only; this method is how callers
// consult the tool default on top of it.
func (c Classification) EffectiveTrusted() bool {
	if c.Blocked {
		return false
	}
	if c.Trusted {
		return true
	}
	return c.DataIsTrustedByDefault && !c.HasPolicies
}

// Engine evaluates and persists trust classifications.
type Engine struct {
	repo   repository.Repository
	attr   *attrpath.Evaluator
	logger *slog.Logger
}

// New builds an Engine. logger defaults to slog.Default when nil.
func New(repo repository.Repository, attr *attrpath.Evaluator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, attr: attr, logger: logger}
}

// EvaluatePolicies classifies every tool-result message in messages against
// the policies bound to agentID, persisting one interaction row per
// classified message. Non-tool messages are ignored. A tool message with no
// resolvable origin is ignored with a logged warning — it indicates a
// malformed conversation.
func (e *Engine) EvaluatePolicies(ctx context.Context, agentID, chatID string, messages []provider.Message) ([]Classification, error) {
	var classifications []Classification

	for _, msg := range messages {
		if msg.Role != provider.RoleTool {
			continue
		}

		c, err := e.classifyOne(ctx, agentID, chatID, msg)
		if err != nil {
			return nil, err
		}
		if c != nil {
			classifications = append(classifications, *c)
		}
	}

	return classifications, nil
}

func (e *Engine) classifyOne(ctx context.Context, agentID, chatID string, msg provider.Message) (*Classification, error) {
	toolName, err := e.repo.FindToolCallOrigin(ctx, chatID, msg.ToolCallID)
	if err != nil {
		if err == repository.ErrNotFound {
			e.logger.Warn("trust: tool message has no prior assistant tool_call, ignoring",
				"chat_id", chatID, "tool_call_id", msg.ToolCallID)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve tool call origin: %w", err)
	}

	tool, err := e.repo.GetAgentTool(ctx, agentID, toolName)
	if err != nil {
		if err == repository.ErrNotFound {
			e.logger.Warn("trust: tool message references an unknown tool, ignoring",
				"agent_id", agentID, "tool", toolName)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve tool: %w", err)
	}

	raw := normalizeContent(msg.Content)

	policies, err := e.repo.ListTrustedDataPolicies(ctx, agentID, tool.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted-data policies: %w", err)
	}

	trusted, blocked, reason := e.evaluate(raw, policies)

	if err := e.persist(ctx, agentID, chatID, msg, trusted, blocked, reason); err != nil {
		return nil, err
	}

	return &Classification{
		ToolCallID:             msg.ToolCallID,
		ToolName:               toolName,
		Trusted:                trusted,
		Blocked:                blocked,
		Reason:                 reason,
		DataIsTrustedByDefault: tool.DataIsTrustedByDefault,
		HasPolicies:            len(policies) > 0,
	}, nil
}

// evaluate applies block_always policies first (fail-closed), then
// mark_as_trusted. Any remaining content is classified untrusted with
// noMatchReason.
func (e *Engine) evaluate(raw []byte, policies []*ent.TrustedDataPolicy) (trusted, blocked bool, reason string) {
	for _, p := range policies {
		if string(p.Action) != "block_always" {
			continue
		}
		if matched, _ := e.attr.Evaluate(raw, p.AttributePath, attrpath.Operator(p.Operator), p.Value); matched {
			return false, true, p.Description
		}
	}

	for _, p := range policies {
		if string(p.Action) != "mark_as_trusted" {
			continue
		}
		if matched, _ := e.attr.Evaluate(raw, p.AttributePath, attrpath.Operator(p.Operator), p.Value); matched {
			return true, false, p.Description
		}
	}

	return false, false, noMatchReason
}

func (e *Engine) persist(ctx context.Context, agentID, chatID string, msg provider.Message, trusted, blocked bool, reason string) error {
	content := redact.Map(map[string]interface{}{
		"role":         "tool",
		"tool_call_id": msg.ToolCallID,
		"content":      msg.Content,
	})

	_, err := e.repo.CreateInteraction(ctx, repository.CreateInteractionInput{
		AgentID: agentID,
		ChatID:  &chatID,
		Type:    "tool_result",
		Request: map[string]interface{}{},
		Content: content,
		Trusted: &trusted,
		Blocked: &blocked,
		Reason:  reason,
	})
	if err != nil {
		return fmt.Errorf("failed to persist tool message classification: %w", err)
	}
	return nil
}

// normalizeContent parses content as JSON when possible; otherwise it is
// treated as a single scalar keyed at the root, per §4.2 step 2.
func normalizeContent(content string) []byte {
	if json.Valid([]byte(content)) {
		return []byte(content)
	}
	wrapped, err := json.Marshal(map[string]string{"value": content})
	if err != nil {
		return []byte("{}")
	}
	return wrapped
}

// FilterOutBlockedData returns the subset of messages omitting every tool
// message whose prior persisted interaction was blocked=true. Non-tool
// messages pass through unchanged, in order.
func (e *Engine) FilterOutBlockedData(ctx context.Context, chatID string, messages []provider.Message) ([]provider.Message, error) {
	filtered := make([]provider.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role != provider.RoleTool {
			filtered = append(filtered, msg)
			continue
		}

		_, blocked, found, err := e.repo.ToolMessageTrust(ctx, chatID, msg.ToolCallID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up tool message trust: %w", err)
		}
		if found && blocked {
			continue
		}
		filtered = append(filtered, msg)
	}

	return filtered, nil
}
