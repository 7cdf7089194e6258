package repository

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/ent/agenttrusteddatapolicy"
	"github.com/codeready-toolchain/gateway/ent/toolinvocationpolicy"
	"github.com/codeready-toolchain/gateway/ent/trusteddatapolicy"
)

// ListTrustedDataPolicies returns the trusted-data policies bound to toolID
// that agentID has opted in to via AgentTrustedDataPolicy.
func (r *entRepository) ListTrustedDataPolicies(ctx context.Context, agentID, toolID string) ([]*ent.TrustedDataPolicy, error) {
	policies, err := r.client.TrustedDataPolicy.Query().
		Where(
			trusteddatapolicy.ToolIDEQ(toolID),
			trusteddatapolicy.HasAgentPoliciesWith(agenttrusteddatapolicy.AgentIDEQ(agentID)),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted-data policies: %w", err)
	}
	return policies, nil
}

// ListTrustedDataPoliciesForTool returns every trusted-data policy bound to
// toolID, regardless of agent opt-in.
func (r *entRepository) ListTrustedDataPoliciesForTool(ctx context.Context, toolID string) ([]*ent.TrustedDataPolicy, error) {
	policies, err := r.client.TrustedDataPolicy.Query().
		Where(trusteddatapolicy.ToolIDEQ(toolID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted-data policies for tool: %w", err)
	}
	return policies, nil
}

func (r *entRepository) ListToolInvocationPolicies(ctx context.Context, agentID, toolName string) ([]*ent.ToolInvocationPolicy, error) {
	policies, err := r.client.ToolInvocationPolicy.Query().
		Where(
			toolinvocationpolicy.AgentIDEQ(agentID),
			toolinvocationpolicy.ToolNameEQ(toolName),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool-invocation policies: %w", err)
	}
	return policies, nil
}
