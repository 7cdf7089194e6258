package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/attrpath"
	"github.com/codeready-toolchain/gateway/pkg/dualllm"
	"github.com/codeready-toolchain/gateway/pkg/invocation"
	"github.com/codeready-toolchain/gateway/pkg/mcpclient"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/quota"
	"github.com/codeready-toolchain/gateway/pkg/repository"
	"github.com/codeready-toolchain/gateway/pkg/trust"
)

type fakeRepo struct {
	repository.Repository

	agent              *ent.Agent
	tools              []*ent.Tool
	toolsByKey         map[string]*ent.Tool
	interactions       []repository.CreateInteractionInput
	limits             []*ent.Limit
	toolCallOrigins    map[string]string
	trustPolicies      map[string][]*ent.TrustedDataPolicy
	invocationPolicies map[string][]*ent.ToolInvocationPolicy
	toolMessageTrust   map[string][2]bool // tool_call_id -> (trusted, blocked)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		agent:      &ent.Agent{ID: "agent-1"},
		toolsByKey: map[string]*ent.Tool{},
	}
}

func (f *fakeRepo) GetAgent(_ context.Context, agentID string) (*ent.Agent, error) {
	if agentID != f.agent.ID {
		return nil, repository.ErrNotFound
	}
	return f.agent, nil
}

func (f *fakeRepo) GetOrCreateDefaultAgent(context.Context, string) (*ent.Agent, error) {
	return f.agent, nil
}

func (f *fakeRepo) GetOrCreateChat(context.Context, string, string) (*ent.Chat, error) {
	return &ent.Chat{ID: "chat-1"}, nil
}

func (f *fakeRepo) ListAgentTools(context.Context, string) ([]*ent.Tool, error) {
	return f.tools, nil
}

func (f *fakeRepo) GetAgentTool(_ context.Context, _ string, name string) (*ent.Tool, error) {
	t, ok := f.toolsByKey[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) UpsertTool(_ context.Context, d repository.ToolDeclaration) (*ent.Tool, error) {
	t := &ent.Tool{ID: d.Name, Name: d.Name, AgentID: d.AgentID, Endpoint: d.Endpoint}
	f.tools = append(f.tools, t)
	f.toolsByKey[d.Name] = t
	return t, nil
}

func (f *fakeRepo) ListTrustedDataPolicies(_ context.Context, _, toolID string) ([]*ent.TrustedDataPolicy, error) {
	return f.trustPolicies[toolID], nil
}

func (f *fakeRepo) ListToolInvocationPolicies(_ context.Context, _, toolName string) ([]*ent.ToolInvocationPolicy, error) {
	return f.invocationPolicies[toolName], nil
}

func (f *fakeRepo) FindToolCallOrigin(_ context.Context, _, toolCallID string) (string, error) {
	name, ok := f.toolCallOrigins[toolCallID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return name, nil
}

func (f *fakeRepo) ToolMessageTrust(_ context.Context, _, toolCallID string) (bool, bool, bool, error) {
	tb, ok := f.toolMessageTrust[toolCallID]
	if !ok {
		return false, false, false, nil
	}
	return tb[0], tb[1], true, nil
}

func (f *fakeRepo) CreateInteraction(_ context.Context, in repository.CreateInteractionInput) (*ent.Interaction, error) {
	f.interactions = append(f.interactions, in)
	return &ent.Interaction{ID: "interaction-1"}, nil
}

func (f *fakeRepo) ResolveGoverningLimits(context.Context, string, []string) ([]*ent.Limit, error) {
	return f.limits, nil
}

func (f *fakeRepo) GetInteraction(context.Context, string) (*ent.Interaction, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeRepo) ListInteractionsByChat(context.Context, string) ([]*ent.Interaction, error) {
	return nil, nil
}

type stubUpstream struct {
	resp    *provider.Response
	genErr  error
	calls   int
}

func (s *stubUpstream) Generate(context.Context, *provider.Request) (*provider.Response, error) {
	s.calls++
	if s.genErr != nil {
		return nil, s.genErr
	}
	return s.resp, nil
}

func (s *stubUpstream) Stream(context.Context, *provider.Request) (<-chan provider.Chunk, error) {
	ch := make(chan provider.Chunk)
	close(ch)
	return ch, nil
}

func newOrchestrator(repo repository.Repository) *Orchestrator {
	trustEngine := trust.New(repo, attrpath.New(nil), nil)
	dualLLM := dualllm.New(func(string) provider.Client { return nil }, "sandbox-model", 64, nil)
	invocationEvaluator := invocation.New(repo)
	enforcer := quota.New(repo, quota.NewDispatcher(repo, nil, 1, 4), nil)
	newTools := func() mcpclient.Executor { return mcpclient.NewStubExecutor() }
	return New(repo, trustEngine, dualLLM, invocationEvaluator, enforcer, newTools, nil)
}

func TestHandle_HappyPathPersistsCompletion(t *testing.T) {
	repo := newFakeRepo()
	o := newOrchestrator(repo)
	up := &stubUpstream{resp: &provider.Response{Text: "hello", InputTokens: 10, OutputTokens: 5}}

	outcome, err := o.Handle(context.Background(), RequestContext{
		UserAgent:    "curl/8",
		ChatID:       "chat-1",
		ProviderName: "anthropic",
		Req: &provider.Request{
			Model:     "claude-x",
			MaxTokens: 256,
			Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		},
		Upstream: up,
	})

	require.NoError(t, err)
	require.Nil(t, outcome.Refusal)
	assert.Equal(t, "hello", outcome.Response.Text)
	require.Len(t, repo.interactions, 1)
	assert.Equal(t, "anthropic", repo.interactions[0].Type)
}

func TestHandle_QuotaRefusalSkipsUpstream(t *testing.T) {
	repo := newFakeRepo()
	repo.limits = []*ent.Limit{{
		ID:                    "limit-1",
		EntityType:            "agent",
		EntityID:              "agent-1",
		LimitType:             "token_cost",
		LimitValue:            100,
		CurrentUsageTokensIn:  100,
		CurrentUsageTokensOut: 0,
	}}
	o := newOrchestrator(repo)
	up := &stubUpstream{resp: &provider.Response{Text: "should not be reached"}}

	outcome, err := o.Handle(context.Background(), RequestContext{
		AgentIDHint:  "agent-1",
		ChatID:       "chat-1",
		ProviderName: "openai",
		Req: &provider.Request{
			Model:     "gpt-x",
			MaxTokens: 256,
			Messages:  []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		},
		Upstream: up,
	})

	require.NoError(t, err)
	require.NotNil(t, outcome.Refusal)
	assert.Equal(t, 0, up.calls)
	require.Len(t, repo.interactions, 1)
	assert.Equal(t, "openai:refusal", repo.interactions[0].Type)
}

func TestHandle_BlockedOnlyConversationRefusesTrustedContextTool(t *testing.T) {
	repo := newFakeRepo()
	repo.toolCallOrigins = map[string]string{"call-1": "fetch_url"}
	repo.toolsByKey["fetch_url"] = &ent.Tool{ID: "fetch_url", Name: "fetch_url"}
	repo.trustPolicies = map[string][]*ent.TrustedDataPolicy{
		"fetch_url": {{ID: "tp1", Action: "block_always", AttributePath: "value", Operator: "equal", Value: "secret-data"}},
	}
	repo.toolMessageTrust = map[string][2]bool{"call-1": {false, true}}
	repo.toolsByKey["send_email"] = &ent.Tool{ID: "send_email", Name: "send_email", AllowUsageWhenUntrustedDataIsPresent: true}
	repo.invocationPolicies = map[string][]*ent.ToolInvocationPolicy{
		"send_email": {{ID: "ip1", Action: "require_trusted_context", Description: "send_email requires a trusted context"}},
	}

	o := newOrchestrator(repo)
	up := &stubUpstream{resp: &provider.Response{
		ToolCalls: []provider.ToolCall{{ID: "call-2", Name: "send_email", Arguments: "{}"}},
	}}

	outcome, err := o.Handle(context.Background(), RequestContext{
		AgentIDHint:  "agent-1",
		ChatID:       "chat-1",
		ProviderName: "anthropic",
		Req: &provider.Request{
			Model:     "claude-x",
			MaxTokens: 256,
			Messages: []provider.Message{
				{Role: provider.RoleUser, Content: "fetch the secret"},
				{Role: provider.RoleTool, ToolCallID: "call-1", Content: "secret-data"},
			},
		},
		Upstream: up,
	})

	require.NoError(t, err)
	require.NotNil(t, outcome.Refusal)
	assert.Equal(t, "tool_invocation", outcome.Refusal.Type)
	assert.Equal(t, "send_email", outcome.Refusal.ToolName)
}
