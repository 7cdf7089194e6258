package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/ent/interaction"
)

func (r *entRepository) CreateInteraction(ctx context.Context, in CreateInteractionInput) (*ent.Interaction, error) {
	if in.AgentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	if in.Type == "" {
		return nil, NewValidationError("type", "required")
	}

	builder := r.client.Interaction.Create().
		SetID(uuid.New().String()).
		SetAgentID(in.AgentID).
		SetType(interaction.Type(in.Type)).
		SetRequest(in.Request)

	if in.ChatID != nil {
		builder = builder.SetChatID(*in.ChatID)
	}
	if in.Response != nil {
		builder = builder.SetResponse(in.Response)
	}
	if in.InputTokens != nil {
		builder = builder.SetInputTokens(*in.InputTokens)
	}
	if in.OutputTokens != nil {
		builder = builder.SetOutputTokens(*in.OutputTokens)
	}
	if in.Content != nil {
		builder = builder.SetContent(in.Content)
	}
	if in.Trusted != nil {
		builder = builder.SetTrusted(*in.Trusted)
	}
	if in.Blocked != nil {
		builder = builder.SetBlocked(*in.Blocked)
	}
	if in.Reason != "" {
		builder = builder.SetReason(in.Reason)
	}
	if in.DurationMs != nil {
		builder = builder.SetDurationMs(*in.DurationMs)
	}

	created, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create interaction: %w", err)
	}
	return created, nil
}

// FindToolCallOrigin scans chatID's interactions, most recent first, for the
// assistant message that proposed toolCallID, and returns the tool name it
// invoked. It returns ErrNotFound if no such call exists — a malformed
// conversation per §4.2.
func (r *entRepository) FindToolCallOrigin(ctx context.Context, chatID, toolCallID string) (string, error) {
	if chatID == "" || toolCallID == "" {
		return "", NewValidationError("chat_id/tool_call_id", "required")
	}

	rows, err := r.client.Interaction.Query().
		Where(interaction.ChatIDEQ(chatID), interaction.DeletedAtIsNil()).
		Order(ent.Desc(interaction.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to scan interactions for tool call origin: %w", err)
	}

	for _, row := range rows {
		name, ok := assistantToolCallName(row.Content, toolCallID)
		if ok {
			return name, nil
		}
	}
	return "", ErrNotFound
}

// assistantToolCallName inspects a persisted content envelope — a
// role-tagged map matching the OpenAI message shape — for an assistant
// tool_calls entry with the given id.
func assistantToolCallName(content map[string]interface{}, toolCallID string) (string, bool) {
	if content == nil {
		return "", false
	}
	role, _ := content["role"].(string)
	if role != "assistant" {
		return "", false
	}
	calls, _ := content["tool_calls"].([]interface{})
	for _, c := range calls {
		call, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if id, _ := call["id"].(string); id != toolCallID {
			continue
		}
		if fn, ok := call["function"].(map[string]interface{}); ok {
			if name, ok := fn["name"].(string); ok {
				return name, true
			}
		}
	}
	return "", false
}

// ToolMessageTrust returns the (trusted, blocked) classification previously
// persisted for the tool-result interaction matching chatID/toolCallID.
func (r *entRepository) ToolMessageTrust(ctx context.Context, chatID, toolCallID string) (bool, bool, bool, error) {
	if chatID == "" || toolCallID == "" {
		return false, false, false, NewValidationError("chat_id/tool_call_id", "required")
	}

	rows, err := r.client.Interaction.Query().
		Where(interaction.ChatIDEQ(chatID), interaction.DeletedAtIsNil()).
		Order(ent.Desc(interaction.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return false, false, false, fmt.Errorf("failed to scan interactions for tool message trust: %w", err)
	}

	for _, row := range rows {
		if !toolMessageMatches(row.Content, toolCallID) {
			continue
		}
		trusted := row.Trusted != nil && *row.Trusted
		blocked := row.Blocked != nil && *row.Blocked
		return trusted, blocked, true, nil
	}
	return false, false, false, nil
}

// SoftDeleteInteractionsOlderThan marks every not-yet-deleted interaction
// created before cutoff as deleted, without removing the row: audit history
// must survive past its active retention window, just stop surfacing
// through the normal read paths. Safe to run concurrently and repeatedly —
// the DeletedAtIsNil guard makes each sweep idempotent.
func (r *entRepository) SoftDeleteInteractionsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := r.client.Interaction.Update().
		Where(interaction.CreatedAtLT(cutoff), interaction.DeletedAtIsNil()).
		SetDeletedAt(time.Now()).
		Save(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete expired interactions: %w", err)
	}
	return n, nil
}

// GetInteraction returns a single interaction by id.
func (r *entRepository) GetInteraction(ctx context.Context, id string) (*ent.Interaction, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	row, err := r.client.Interaction.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	if row.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// ListInteractionsByChat returns chatID's not-soft-deleted interactions
// ordered oldest first.
func (r *entRepository) ListInteractionsByChat(ctx context.Context, chatID string) ([]*ent.Interaction, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}
	rows, err := r.client.Interaction.Query().
		Where(interaction.ChatIDEQ(chatID), interaction.DeletedAtIsNil()).
		Order(ent.Asc(interaction.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions for chat: %w", err)
	}
	return rows, nil
}

func toolMessageMatches(content map[string]interface{}, toolCallID string) bool {
	if content == nil {
		return false
	}
	role, _ := content["role"].(string)
	if role != "tool" {
		return false
	}
	id, _ := content["tool_call_id"].(string)
	return id == toolCallID
}
