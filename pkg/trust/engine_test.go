package trust

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/ent/trusteddatapolicy"
	"github.com/codeready-toolchain/gateway/pkg/attrpath"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

// fakeRepo implements repository.Repository by embedding the interface (so
// unused methods panic if ever called) and overriding just the methods the
// trust engine exercises.
type fakeRepo struct {
	repository.Repository

	tool     *ent.Tool
	policies []*ent.TrustedDataPolicy
	toolName string

	created []repository.CreateInteractionInput
	trust   map[string]struct {
		trusted, blocked bool
	}
}

func (f *fakeRepo) FindToolCallOrigin(_ context.Context, _, toolCallID string) (string, error) {
	if f.toolName == "" {
		return "", repository.ErrNotFound
	}
	return f.toolName, nil
}

func (f *fakeRepo) GetAgentTool(_ context.Context, _, _ string) (*ent.Tool, error) {
	if f.tool == nil {
		return nil, repository.ErrNotFound
	}
	return f.tool, nil
}

func (f *fakeRepo) ListTrustedDataPolicies(_ context.Context, _, _ string) ([]*ent.TrustedDataPolicy, error) {
	return f.policies, nil
}

func (f *fakeRepo) CreateInteraction(_ context.Context, in repository.CreateInteractionInput) (*ent.Interaction, error) {
	f.created = append(f.created, in)
	return &ent.Interaction{ID: "interaction-1"}, nil
}

func (f *fakeRepo) ToolMessageTrust(_ context.Context, _, toolCallID string) (bool, bool, bool, error) {
	v, ok := f.trust[toolCallID]
	return v.trusted, v.blocked, ok, nil
}

func policy(action, operator trusteddatapolicy.Operator, path, value, desc string) *ent.TrustedDataPolicy {
	return &ent.TrustedDataPolicy{
		Action:        trusteddatapolicy.Action(action),
		Operator:      operator,
		AttributePath: path,
		Value:         value,
		Description:   desc,
	}
}

func TestEvaluatePolicies_S1AllowTrust(t *testing.T) {
	repo := &fakeRepo{
		toolName: "fetch_emails",
		tool:     &ent.Tool{ID: "tool-1"},
		policies: []*ent.TrustedDataPolicy{
			policy("mark_as_trusted", trusteddatapolicy.OperatorEndsWith, "emails[*].from", "@trusted.com", "Allow trusted emails"),
		},
	}
	engine := New(repo, attrpath.New(nil), nil)

	messages := []provider.Message{{
		Role:       provider.RoleTool,
		ToolCallID: "call-1",
		Content:    `{"emails":[{"from":"u@trusted.com"},{"from":"a@trusted.com"}]}`,
	}}

	classifications, err := engine.EvaluatePolicies(context.Background(), "agent-1", "chat-1", messages)
	require.NoError(t, err)
	require.Len(t, classifications, 1)
	assert.True(t, classifications[0].Trusted)
	assert.False(t, classifications[0].Blocked)
	assert.Contains(t, classifications[0].Reason, "Allow trusted emails")
	require.Len(t, repo.created, 1)
	assert.Equal(t, "tool_result", repo.created[0].Type)
}

func TestEvaluatePolicies_S2BlockAlways(t *testing.T) {
	repo := &fakeRepo{
		toolName: "fetch_emails",
		tool:     &ent.Tool{ID: "tool-1"},
		policies: []*ent.TrustedDataPolicy{
			policy("block_always", trusteddatapolicy.OperatorContains, "emails[*].from", "hacker", ""),
		},
	}
	engine := New(repo, attrpath.New(nil), nil)

	messages := []provider.Message{{
		Role:       provider.RoleTool,
		ToolCallID: "call-1",
		Content:    `{"emails":[{"from":"hacker@evil.com"}]}`,
	}}

	classifications, err := engine.EvaluatePolicies(context.Background(), "agent-1", "chat-1", messages)
	require.NoError(t, err)
	require.Len(t, classifications, 1)
	assert.False(t, classifications[0].Trusted)
	assert.True(t, classifications[0].Blocked)
}

func TestEvaluatePolicies_S3NoMatch(t *testing.T) {
	repo := &fakeRepo{
		toolName: "fetch_emails",
		tool:     &ent.Tool{ID: "tool-1"},
		policies: []*ent.TrustedDataPolicy{
			policy("mark_as_trusted", trusteddatapolicy.OperatorEndsWith, "emails[*].from", "@trusted.com", "Allow trusted emails"),
		},
	}
	engine := New(repo, attrpath.New(nil), nil)

	messages := []provider.Message{{
		Role:       provider.RoleTool,
		ToolCallID: "call-1",
		Content:    `{"emails":[{"from":"a@untrusted.com"}]}`,
	}}

	classifications, err := engine.EvaluatePolicies(context.Background(), "agent-1", "chat-1", messages)
	require.NoError(t, err)
	require.Len(t, classifications, 1)
	assert.False(t, classifications[0].Trusted)
	assert.False(t, classifications[0].Blocked)
	assert.Contains(t, classifications[0].Reason, noMatchReason)
}

func TestEvaluatePolicies_UnresolvableOriginIsIgnored(t *testing.T) {
	repo := &fakeRepo{}
	engine := New(repo, attrpath.New(nil), nil)

	messages := []provider.Message{{Role: provider.RoleTool, ToolCallID: "call-1", Content: "{}"}}

	classifications, err := engine.EvaluatePolicies(context.Background(), "agent-1", "chat-1", messages)
	require.NoError(t, err)
	assert.Empty(t, classifications)
	assert.Empty(t, repo.created)
}

func TestFilterOutBlockedData(t *testing.T) {
	repo := &fakeRepo{
		trust: map[string]struct{ trusted, blocked bool }{
			"call-1": {trusted: false, blocked: true},
			"call-2": {trusted: true, blocked: false},
		},
	}
	engine := New(repo, attrpath.New(nil), nil)

	messages := []provider.Message{
		{Role: provider.RoleUser, Content: "hi"},
		{Role: provider.RoleTool, ToolCallID: "call-1", Content: "blocked"},
		{Role: provider.RoleTool, ToolCallID: "call-2", Content: "allowed"},
	}

	filtered, err := engine.FilterOutBlockedData(context.Background(), "chat-1", messages)
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, provider.RoleUser, filtered[0].Role)
	assert.Equal(t, "call-2", filtered[1].ToolCallID)
}
