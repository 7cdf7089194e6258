package invocation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/provider"
	"github.com/codeready-toolchain/gateway/pkg/repository"
	"github.com/codeready-toolchain/gateway/pkg/telemetry"
)

type fakeRepo struct {
	repository.Repository

	tools    map[string]*ent.Tool
	policies map[string][]*ent.ToolInvocationPolicy
}

func (f *fakeRepo) GetAgentTool(_ context.Context, _, name string) (*ent.Tool, error) {
	t, ok := f.tools[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) ListToolInvocationPolicies(_ context.Context, _, toolName string) ([]*ent.ToolInvocationPolicy, error) {
	return f.policies[toolName], nil
}

func TestEvaluate_NoPoliciesNoRestrictionsAllowed(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{
			"safe_tool": {AllowUsageWhenUntrustedDataIsPresent: true},
		},
	}
	e := New(repo)

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{{Name: "safe_tool"}}, false)

	require.NoError(t, err)
	assert.Nil(t, refusal)
}

func TestEvaluate_RequireTrustedContextRefusesWhenUntrusted(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{"send_email": {}},
		policies: map[string][]*ent.ToolInvocationPolicy{
			"send_email": {{ID: "p1", Action: "require_trusted_context", Description: "Sending email requires a trusted context"}},
		},
	}
	e := New(repo)

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{{Name: "send_email"}}, false)

	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, "send_email", refusal.ToolName)
	assert.Equal(t, "p1", refusal.PolicyID)
	assert.Contains(t, refusal.AuditPayload(), `type="tool_invocation"`)
}

func TestEvaluate_BlockAlwaysRefusesRegardlessOfTrust(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{"delete_all": {}},
		policies: map[string][]*ent.ToolInvocationPolicy{
			"delete_all": {{ID: "p1", Action: "block_always", Description: "delete_all is never permitted"}},
		},
	}
	e := New(repo)

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{{Name: "delete_all"}}, true)

	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, "delete_all", refusal.ToolName)
}

func TestEvaluate_ToolDefaultRefusesWhenUntrustedDataDisallowed(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{
			"risky_tool": {AllowUsageWhenUntrustedDataIsPresent: false},
		},
	}
	e := New(repo)

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{{Name: "risky_tool"}}, false)

	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, "risky_tool", refusal.ToolName)
}

func TestEvaluate_FirstRefusalWins(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{
			"ok_tool":     {AllowUsageWhenUntrustedDataIsPresent: true},
			"delete_all":  {AllowUsageWhenUntrustedDataIsPresent: true},
			"third_tool":  {AllowUsageWhenUntrustedDataIsPresent: true},
		},
		policies: map[string][]*ent.ToolInvocationPolicy{
			"delete_all": {{ID: "p1", Action: "block_always"}},
		},
	}
	e := New(repo)

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{
		{Name: "ok_tool"}, {Name: "delete_all"}, {Name: "third_tool"},
	}, true)

	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, "delete_all", refusal.ToolName)
}

func TestEvaluate_ArgumentsViolatingSchemaAreRefused(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{
			"send_email": {
				AllowUsageWhenUntrustedDataIsPresent: true,
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"to"},
					"properties": map[string]interface{}{
						"to": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	}
	e := New(repo)

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{
		{Name: "send_email", Arguments: `{"subject": "hi"}`},
	}, true)

	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, "schema_violation", refusal.Type)
}

func TestEvaluate_ArgumentsMatchingSchemaAreAllowed(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{
			"send_email": {
				AllowUsageWhenUntrustedDataIsPresent: true,
				Parameters: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"to"},
					"properties": map[string]interface{}{
						"to": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	}
	e := New(repo)

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{
		{Name: "send_email", Arguments: `{"to": "a@example.com"}`},
	}, true)

	require.NoError(t, err)
	assert.Nil(t, refusal)
}

type recordingCache struct {
	gets  int
	sets  int
	store map[string]*Refusal
}

func newRecordingCache() *recordingCache {
	return &recordingCache{store: make(map[string]*Refusal)}
}

func (c *recordingCache) Get(_ context.Context, key string) (*Refusal, bool) {
	c.gets++
	refusal, ok := c.store[key]
	return refusal, ok
}

func (c *recordingCache) Set(_ context.Context, key string, refusal *Refusal) {
	c.sets++
	c.store[key] = refusal
}

func TestEvaluate_PolicyDecisionIsMemoizedAcrossCalls(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{"send_email": {}},
		policies: map[string][]*ent.ToolInvocationPolicy{
			"send_email": {{ID: "p1", Action: "require_trusted_context"}},
		},
	}
	cache := newRecordingCache()
	e := NewWithCache(repo, cache)

	_, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{{Name: "send_email"}}, false)
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{{Name: "send_email"}}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, cache.gets)
	assert.Equal(t, 1, cache.sets, "second call should be served entirely from cache")
}

func TestEvaluate_WithTracerSetStillEvaluatesCorrectly(t *testing.T) {
	repo := &fakeRepo{
		tools: map[string]*ent.Tool{
			"safe_tool": {AllowUsageWhenUntrustedDataIsPresent: true},
		},
	}
	e := New(repo)
	e.SetTracer(telemetry.NewTracer("test"))

	refusal, err := e.Evaluate(context.Background(), "agent-1", []provider.ToolCall{{Name: "safe_tool"}}, false)

	require.NoError(t, err)
	assert.Nil(t, refusal)
}
