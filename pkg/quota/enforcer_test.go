package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

type fakeRepo struct {
	repository.Repository

	limits      []*ent.Limit
	tokenPrices map[string]*ent.TokenPrice
	incremented []struct {
		limitID             string
		tokensIn, tokensOut int64
	}
	sweptOrgIDs []string
}

func (f *fakeRepo) ResolveGoverningLimits(_ context.Context, _ string, _ []string) ([]*ent.Limit, error) {
	return f.limits, nil
}

func (f *fakeRepo) GetTokenPrice(_ context.Context, model string) (*ent.TokenPrice, error) {
	p, ok := f.tokenPrices[model]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) IncrementLimitUsage(_ context.Context, limitID string, tokensIn, tokensOut int64) error {
	f.incremented = append(f.incremented, struct {
		limitID             string
		tokensIn, tokensOut int64
	}{limitID, tokensIn, tokensOut})
	return nil
}

func (f *fakeRepo) SweepExpiredLimits(_ context.Context, orgID string, _ time.Duration, _ time.Time) error {
	f.sweptOrgIDs = append(f.sweptOrgIDs, orgID)
	return nil
}

func (f *fakeRepo) OrganizationCleanupInterval(context.Context, string) (time.Duration, error) {
	return time.Hour, nil
}

func TestPreCheck_S5TokenLimitExceeded(t *testing.T) {
	repo := &fakeRepo{
		limits: []*ent.Limit{{
			ID:                    "limit-1",
			EntityType:            "agent",
			EntityID:              "agent-1",
			LimitType:             "token_cost",
			LimitValue:            1000,
			CurrentUsageTokensIn:  600,
			CurrentUsageTokensOut: 500,
		}},
	}
	e := New(repo, NewDispatcher(repo, nil, 1, 4), nil)
	defer e.dispatcher.Stop()

	refusal, limits, err := e.PreCheck(context.Background(), "agent-1", nil)

	require.NoError(t, err)
	require.NotNil(t, refusal)
	assert.Equal(t, "token_cost", refusal.Type)
	require.Len(t, limits, 1)
}

func TestPreCheck_UnderLimitAllows(t *testing.T) {
	repo := &fakeRepo{
		limits: []*ent.Limit{{
			ID:                    "limit-1",
			EntityType:            "agent",
			EntityID:              "agent-1",
			LimitType:             "token_cost",
			LimitValue:            1000,
			CurrentUsageTokensIn:  10,
			CurrentUsageTokensOut: 10,
		}},
	}
	e := New(repo, NewDispatcher(repo, nil, 1, 4), nil)
	defer e.dispatcher.Stop()

	refusal, limits, err := e.PreCheck(context.Background(), "agent-1", nil)

	require.NoError(t, err)
	assert.Nil(t, refusal)
	require.Len(t, limits, 1)
}

func TestPreCheck_DollarLimitUsesTokenPrice(t *testing.T) {
	repo := &fakeRepo{
		limits: []*ent.Limit{{
			ID:                    "limit-1",
			EntityType:            "organization",
			EntityID:              "org-1",
			LimitType:             "token_cost",
			Model:                 "claude-x",
			LimitValue:            1.0,
			CurrentUsageTokensIn:  1_000_000,
			CurrentUsageTokensOut: 0,
		}},
		tokenPrices: map[string]*ent.TokenPrice{
			"claude-x": {Model: "claude-x", PricePerMillionInput: 3.0, PricePerMillionOutput: 15.0},
		},
	}
	e := New(repo, NewDispatcher(repo, nil, 1, 4), nil)
	defer e.dispatcher.Stop()

	refusal, _, err := e.PreCheck(context.Background(), "agent-1", nil)

	require.NoError(t, err)
	require.NotNil(t, refusal)
}

func TestPreCheck_NoGoverningLimitAllows(t *testing.T) {
	repo := &fakeRepo{}
	e := New(repo, NewDispatcher(repo, nil, 1, 4), nil)
	defer e.dispatcher.Stop()

	refusal, limits, err := e.PreCheck(context.Background(), "agent-1", nil)

	require.NoError(t, err)
	assert.Nil(t, refusal)
	assert.Nil(t, limits)
}

func TestPreCheck_SweepsOwningOrgForAgentScopeLimit(t *testing.T) {
	orgID := "org-1"
	repo := &fakeRepo{
		limits: []*ent.Limit{{
			ID:                    "limit-1",
			EntityType:            "agent",
			EntityID:              "agent-1",
			OrgID:                 &orgID,
			LimitType:             "token_cost",
			LimitValue:            1000,
			CurrentUsageTokensIn:  10,
			CurrentUsageTokensOut: 10,
		}},
	}
	e := New(repo, NewDispatcher(repo, nil, 1, 4), nil)
	defer e.dispatcher.Stop()

	_, _, err := e.PreCheck(context.Background(), "agent-1", nil)

	require.NoError(t, err)
	assert.Equal(t, []string{orgID}, repo.sweptOrgIDs)
}

func TestPreCheck_SkipsSweepWhenAgentScopeLimitHasNoOwningOrg(t *testing.T) {
	repo := &fakeRepo{
		limits: []*ent.Limit{{
			ID:                    "limit-1",
			EntityType:            "agent",
			EntityID:              "agent-1",
			LimitType:             "token_cost",
			LimitValue:            1000,
			CurrentUsageTokensIn:  10,
			CurrentUsageTokensOut: 10,
		}},
	}
	e := New(repo, NewDispatcher(repo, nil, 1, 4), nil)
	defer e.dispatcher.Stop()

	_, _, err := e.PreCheck(context.Background(), "agent-1", nil)

	require.NoError(t, err)
	assert.Empty(t, repo.sweptOrgIDs)
}

func TestDispatch_IncrementsEveryGoverningLimit(t *testing.T) {
	repo := &fakeRepo{}
	d := NewDispatcher(repo, nil, 2, 8)
	e := New(repo, d, nil)

	limits := []*ent.Limit{{ID: "limit-1"}, {ID: "limit-2"}}
	e.Dispatch(limits, 10, 20)
	d.Stop()

	require.Len(t, repo.incremented, 2)
}
