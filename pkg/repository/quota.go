package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/ent/limit"
	"github.com/codeready-toolchain/gateway/ent/organization"
	"github.com/codeready-toolchain/gateway/ent/tokenprice"
)

// ResolveGoverningLimits implements the agent → teams → organization
// priority order. The first scope carrying any token_cost limit wins; an
// agent with no teams and no agent-scope limit falls back to the first
// organization that carries one.
func (r *entRepository) ResolveGoverningLimits(ctx context.Context, agentID string, teamIDs []string) ([]*ent.Limit, error) {
	agentLimits, err := r.client.Limit.Query().
		Where(
			limit.EntityTypeEQ(limit.EntityTypeAgent),
			limit.EntityIDEQ(agentID),
			limit.LimitTypeEQ("token_cost"),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent limits: %w", err)
	}
	if len(agentLimits) > 0 {
		return agentLimits, nil
	}

	for _, teamID := range teamIDs {
		teamLimits, err := r.client.Limit.Query().
			Where(
				limit.EntityTypeEQ(limit.EntityTypeTeam),
				limit.EntityIDEQ(teamID),
				limit.LimitTypeEQ("token_cost"),
			).
			All(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve team limits: %w", err)
		}
		if len(teamLimits) > 0 {
			return teamLimits, nil
		}
	}

	orgLimits, err := r.client.Limit.Query().
		Where(
			limit.EntityTypeEQ(limit.EntityTypeOrganization),
			limit.LimitTypeEQ("token_cost"),
		).
		Order(ent.Asc(limit.FieldEntityID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve organization limits: %w", err)
	}
	if len(orgLimits) == 0 {
		return nil, nil
	}

	firstOrgID := orgLimits[0].EntityID
	var governing []*ent.Limit
	for _, l := range orgLimits {
		if l.EntityID == firstOrgID {
			governing = append(governing, l)
		}
	}
	return governing, nil
}

func (r *entRepository) GetTokenPrice(ctx context.Context, model string) (*ent.TokenPrice, error) {
	price, err := r.client.TokenPrice.Query().
		Where(tokenprice.ModelEQ(model)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token price: %w", err)
	}
	return price, nil
}

// IncrementLimitUsage performs a single atomic UPDATE x = x + delta — two
// concurrent completions against the same limit are linearised by the
// store, so there is no lost update.
func (r *entRepository) IncrementLimitUsage(ctx context.Context, limitID string, tokensIn, tokensOut int64) error {
	n, err := r.client.Limit.Update().
		Where(limit.IDEQ(limitID)).
		AddCurrentUsageTokensIn(tokensIn).
		AddCurrentUsageTokensOut(tokensOut).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to increment limit usage: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepExpiredLimits resets every limit owned by orgID whose lastCleanup is
// null or older than now-interval. Concurrent sweeps are safe: the reset is
// idempotent relative to lastCleanup, so a duplicate reset within the same
// tick only advances lastCleanup forward.
func (r *entRepository) SweepExpiredLimits(ctx context.Context, orgID string, interval time.Duration, now time.Time) error {
	cutoff := now.Add(-interval)

	_, err := r.client.Limit.Update().
		Where(
			limit.OrgIDEQ(orgID),
			limit.Or(
				limit.LastCleanupIsNil(),
				limit.LastCleanupLT(cutoff),
			),
		).
		SetCurrentUsageTokensIn(0).
		SetCurrentUsageTokensOut(0).
		SetLastCleanup(now).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep expired limits: %w", err)
	}
	return nil
}

var cleanupIntervals = map[organization.LimitCleanupInterval]time.Duration{
	organization.LimitCleanupInterval1h:  time.Hour,
	organization.LimitCleanupInterval12h: 12 * time.Hour,
	organization.LimitCleanupInterval24h: 24 * time.Hour,
	organization.LimitCleanupInterval1w:  7 * 24 * time.Hour,
	organization.LimitCleanupInterval1m:  30 * 24 * time.Hour,
}

func (r *entRepository) OrganizationCleanupInterval(ctx context.Context, orgID string) (time.Duration, error) {
	org, err := r.client.Organization.Get(ctx, orgID)
	if err != nil {
		if ent.IsNotFound(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get organization: %w", err)
	}
	interval, ok := cleanupIntervals[org.LimitCleanupInterval]
	if !ok {
		return time.Hour, nil
	}
	return interval, nil
}

// OrganizationHasLimit reports whether orgID carries any limit row, of any
// entity_type, governed by it.
func (r *entRepository) OrganizationHasLimit(ctx context.Context, orgID string) (bool, error) {
	n, err := r.client.Limit.Query().
		Where(limit.OrgIDEQ(orgID)).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count organization limits: %w", err)
	}
	return n > 0, nil
}

func (r *entRepository) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	orgs, err := r.client.Organization.Query().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	ids := make([]string, 0, len(orgs))
	for _, o := range orgs {
		ids = append(ids, o.ID)
	}
	return ids, nil
}
