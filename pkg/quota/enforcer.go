// Package quota implements token-cost quota enforcement: a pre-flight
// check against per-entity limits, a fire-and-forget post-flight atomic
// increment, and a best-effort periodic reset sweep.
package quota

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/invocation"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

const tokenCostLimitType = "token_cost"

// Enforcer runs the pre-flight check and dispatches post-flight updates.
type Enforcer struct {
	repo       repository.Repository
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// New builds an Enforcer backed by dispatcher for fire-and-forget usage
// updates.
func New(repo repository.Repository, dispatcher *Dispatcher, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{repo: repo, dispatcher: dispatcher, logger: logger}
}

// PreCheck resolves agentID's governing limits (agent → teams →
// organization, first scope with any limit wins) and evaluates each one. An
// opportunistic reset sweep runs first for every distinct owning
// organization among the governing limits — regardless of whether the
// limit itself is organization-, team-, or agent-scoped, since a limit's
// reset cadence is always the owning organization's cleanup interval. The
// first exceeded limit short-circuits with a Refusal tagged
// type="token_cost"; limits is the governing set to increment after a
// successful completion, regardless of outcome.
func (e *Enforcer) PreCheck(ctx context.Context, agentID string, teamIDs []string) (refusal *invocation.Refusal, limits []*ent.Limit, err error) {
	limits, err = e.repo.ResolveGoverningLimits(ctx, agentID, teamIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve governing limits: %w", err)
	}
	if len(limits) == 0 {
		return nil, nil, nil
	}

	swept := make(map[string]bool, len(limits))
	for _, l := range limits {
		orgID := owningOrgID(l)
		if orgID == "" || swept[orgID] {
			continue
		}
		swept[orgID] = true
		e.sweepIfEligible(ctx, orgID)
	}

	for _, l := range limits {
		if l.LimitType != tokenCostLimitType {
			continue
		}
		exceeded, err := e.exceeded(ctx, l)
		if err != nil {
			return nil, nil, err
		}
		if exceeded {
			return &invocation.Refusal{
				Type:        "token_cost",
				ToolName:    "",
				PolicyID:    l.ID,
				UserMessage: fmt.Sprintf("Request refused: %s usage limit has been reached.", l.EntityType),
			}, limits, nil
		}
	}

	return nil, limits, nil
}

func (e *Enforcer) exceeded(ctx context.Context, l *ent.Limit) (bool, error) {
	if l.Model == "" {
		usage := float64(l.CurrentUsageTokensIn + l.CurrentUsageTokensOut)
		return usage >= l.LimitValue, nil
	}

	price, err := e.repo.GetTokenPrice(ctx, l.Model)
	if err != nil {
		if err == repository.ErrNotFound {
			e.logger.Warn("quota: no token price for model, skipping cost evaluation", "model", l.Model, "limit_id", l.ID)
			return false, nil
		}
		return false, fmt.Errorf("failed to get token price: %w", err)
	}

	inputCost := float64(l.CurrentUsageTokensIn) * price.PricePerMillionInput / 1_000_000
	outputCost := float64(l.CurrentUsageTokensOut) * price.PricePerMillionOutput / 1_000_000
	return inputCost+outputCost >= l.LimitValue, nil
}

// owningOrgID resolves the organization whose cleanup interval governs l's
// reset sweep. An organization-scope limit is its own owner; a team- or
// agent-scope limit must carry an explicit OrgID, set at creation time,
// since neither teams nor agents are first-class entities with their own
// organization edge. Returns "" if no owning organization can be resolved,
// in which case l is never swept.
func owningOrgID(l *ent.Limit) string {
	if string(l.EntityType) == "organization" {
		return l.EntityID
	}
	if l.OrgID != nil {
		return *l.OrgID
	}
	return ""
}

func (e *Enforcer) sweepIfEligible(ctx context.Context, orgID string) {
	if err := sweepOrganization(ctx, e.repo, orgID); err != nil {
		e.logger.Warn("quota: opportunistic reset sweep failed", "org_id", orgID, "error", err)
	}
}

// Dispatch fires the post-flight atomic increment for every limit in the
// governing set, fanned out onto the bounded worker pool. Errors are
// logged and swallowed by the dispatcher — quota updates must never fail a
// completed interaction.
func (e *Enforcer) Dispatch(limits []*ent.Limit, tokensIn, tokensOut int64) {
	e.dispatcher.Dispatch(limits, tokensIn, tokensOut)
}
