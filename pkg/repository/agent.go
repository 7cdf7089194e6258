package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/ent/agent"
	"github.com/codeready-toolchain/gateway/ent/chat"
)

func (r *entRepository) GetAgent(ctx context.Context, agentID string) (*ent.Agent, error) {
	if agentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}

	a, err := r.client.Agent.Get(ctx, agentID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// GetOrCreateDefaultAgent resolves the agent derived from a client's
// user-agent header, creating one on first sight. name is expected to
// already be normalised by the caller.
func (r *entRepository) GetOrCreateDefaultAgent(ctx context.Context, name string) (*ent.Agent, error) {
	if name == "" {
		return nil, NewValidationError("name", "required")
	}

	existing, err := r.client.Agent.Query().
		Where(agent.NameEQ(name)).
		Only(ctx)
	if err == nil {
		return existing, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}

	created, err := r.client.Agent.Create().
		SetID(uuid.New().String()).
		SetName(name).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			existing, queryErr := r.client.Agent.Query().Where(agent.NameEQ(name)).Only(ctx)
			if queryErr != nil {
				return nil, fmt.Errorf("failed to query agent after constraint error: %w", queryErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return created, nil
}

// GetOrCreateChat resolves the chat identified by chatID, creating it
// scoped to agentID on first use.
func (r *entRepository) GetOrCreateChat(ctx context.Context, agentID, chatID string) (*ent.Chat, error) {
	if chatID == "" {
		return nil, NewValidationError("chat_id", "required")
	}

	existing, err := r.client.Chat.Get(ctx, chatID)
	if err == nil {
		return existing, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	created, err := r.client.Chat.Create().
		SetID(chatID).
		SetAgentID(agentID).
		SetCreatedAt(time.Now()).
		Save(ctx)
	if err != nil {
		if ent.IsConstraintError(err) {
			existing, queryErr := r.client.Chat.Query().Where(chat.IDEQ(chatID)).Only(ctx)
			if queryErr != nil {
				return nil, fmt.Errorf("failed to query chat after constraint error: %w", queryErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return created, nil
}
