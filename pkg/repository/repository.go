// Package repository gives the policy engines and the proxy orchestrator
// typed access to interactions, tools, policies, limits, and agents without
// exposing the underlying ORM. Nothing outside this package imports ent
// directly.
package repository

import (
	"context"
	"time"

	"github.com/codeready-toolchain/gateway/ent"
)

// Repository is the narrow surface the core consumes. It is pure data
// access: no policy logic, no provider calls.
type Repository interface {
	AgentRepository
	ToolRepository
	PolicyRepository
	InteractionRepository
	QuotaRepository
}

// AgentRepository resolves agents and the chats scoped to them.
type AgentRepository interface {
	GetAgent(ctx context.Context, agentID string) (*ent.Agent, error)
	GetOrCreateDefaultAgent(ctx context.Context, name string) (*ent.Agent, error)
	GetOrCreateChat(ctx context.Context, agentID, chatID string) (*ent.Chat, error)
}

// ToolRepository manages the tool set an agent exposes to the model.
type ToolRepository interface {
	ListAgentTools(ctx context.Context, agentID string) ([]*ent.Tool, error)
	GetAgentTool(ctx context.Context, agentID, name string) (*ent.Tool, error)
	UpsertTool(ctx context.Context, tool ToolDeclaration) (*ent.Tool, error)

	// ListAllTools returns every tool across every agent, for the system
	// warnings scan.
	ListAllTools(ctx context.Context) ([]*ent.Tool, error)
}

// ToolDeclaration is the upsert key/value pair for ToolRepository.UpsertTool.
// Re-declaring an existing (agentID, name) pair leaves trust defaults
// untouched, per the data model's upsert semantics.
type ToolDeclaration struct {
	AgentID     string
	Name        string
	Description string
	Parameters  map[string]interface{}
	Endpoint    string

	// AllowUsageWhenUntrustedDataIsPresent and DataIsTrustedByDefault are
	// only applied when the tool is created for the first time.
	AllowUsageWhenUntrustedDataIsPresent bool
	DataIsTrustedByDefault               bool
}

// PolicyRepository resolves the trust and invocation policies bound to a
// tool or agent.
type PolicyRepository interface {
	ListTrustedDataPolicies(ctx context.Context, agentID, toolID string) ([]*ent.TrustedDataPolicy, error)
	ListToolInvocationPolicies(ctx context.Context, agentID, toolName string) ([]*ent.ToolInvocationPolicy, error)

	// ListTrustedDataPoliciesForTool returns every trusted-data policy bound
	// to toolID, regardless of agent opt-in — used by the system warnings
	// scan, which checks a tool's declared policies for well-formedness
	// independent of which agents currently use them.
	ListTrustedDataPoliciesForTool(ctx context.Context, toolID string) ([]*ent.TrustedDataPolicy, error)
}

// InteractionRepository persists and reconstructs the audit trail.
type InteractionRepository interface {
	CreateInteraction(ctx context.Context, in CreateInteractionInput) (*ent.Interaction, error)

	// FindToolCallOrigin walks previously persisted interactions of chatID
	// looking for the assistant tool_call entry matching toolCallID, and
	// returns the originating tool's name. Used by the trust engine to
	// resolve which tool produced a tool-result message.
	FindToolCallOrigin(ctx context.Context, chatID, toolCallID string) (toolName string, err error)

	// ToolMessageTrust returns the (trusted, blocked) classification
	// previously persisted for the tool-result interaction identified by
	// chatID and toolCallID. found is false if no such interaction exists
	// yet (malformed conversation, per §4.2).
	ToolMessageTrust(ctx context.Context, chatID, toolCallID string) (trusted, blocked, found bool, err error)

	// SoftDeleteInteractionsOlderThan marks every interaction created before
	// cutoff as deleted and returns how many rows were newly marked. Rows
	// are retained, not removed, and disappear from GetInteraction/
	// ListInteractionsByChat/the trust lookups above from that point on.
	SoftDeleteInteractionsOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// GetInteraction returns a single interaction by id, for the admin trace
	// endpoint. Returns ErrNotFound for a soft-deleted row.
	GetInteraction(ctx context.Context, id string) (*ent.Interaction, error)

	// ListInteractionsByChat returns chatID's not-soft-deleted interactions
	// ordered oldest first, for the admin trace endpoint.
	ListInteractionsByChat(ctx context.Context, chatID string) ([]*ent.Interaction, error)
}

// CreateInteractionInput captures everything persisted for one Interaction
// row. Exactly one row is created per completed proxy request, and one per
// classified tool-result message.
type CreateInteractionInput struct {
	AgentID      string
	ChatID       *string
	Type         string
	Request      map[string]interface{}
	Response     map[string]interface{}
	InputTokens  *int
	OutputTokens *int
	Content      map[string]interface{}
	Trusted      *bool
	Blocked      *bool
	Reason       string
	DurationMs   *int
}

// QuotaRepository resolves and mutates token-cost limits.
type QuotaRepository interface {
	// ResolveGoverningLimits returns the limits that govern agentID in
	// priority order: agent, then its teams, then (if it has none) the
	// first organization carrying a limit.
	ResolveGoverningLimits(ctx context.Context, agentID string, teamIDs []string) ([]*ent.Limit, error)

	GetTokenPrice(ctx context.Context, model string) (*ent.TokenPrice, error)

	// IncrementLimitUsage atomically adds tokensIn/tokensOut to the named
	// limit via a single UPDATE x = x + delta statement.
	IncrementLimitUsage(ctx context.Context, limitID string, tokensIn, tokensOut int64) error

	// SweepExpiredLimits resets the usage counters of every limit owned by
	// orgID whose lastCleanup is null or older than now-interval. Safe to
	// call concurrently; resets are idempotent relative to lastCleanup.
	SweepExpiredLimits(ctx context.Context, orgID string, interval time.Duration, now time.Time) error

	// OrganizationCleanupInterval returns the organization's configured
	// limitCleanupInterval, translated to a duration.
	OrganizationCleanupInterval(ctx context.Context, orgID string) (time.Duration, error)

	// ListOrganizationIDs returns every organization id, for the periodic
	// reset sweep to iterate.
	ListOrganizationIDs(ctx context.Context) ([]string, error)

	// OrganizationHasLimit reports whether orgID carries any limit row at
	// all, for the system warnings scan (an organization with no limit
	// silently allows unbounded spend).
	OrganizationHasLimit(ctx context.Context, orgID string) (bool, error)
}
