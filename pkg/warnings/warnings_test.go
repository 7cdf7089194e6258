package warnings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gateway/ent"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

type fakeRepo struct {
	repository.Repository

	orgIDs         []string
	orgHasLimit    map[string]bool
	tools          []*ent.Tool
	policiesByTool map[string][]*ent.TrustedDataPolicy
}

func (f *fakeRepo) ListOrganizationIDs(context.Context) ([]string, error) {
	return f.orgIDs, nil
}

func (f *fakeRepo) OrganizationHasLimit(_ context.Context, orgID string) (bool, error) {
	return f.orgHasLimit[orgID], nil
}

func (f *fakeRepo) ListAllTools(context.Context) ([]*ent.Tool, error) {
	return f.tools, nil
}

func (f *fakeRepo) ListTrustedDataPoliciesForTool(_ context.Context, toolID string) ([]*ent.TrustedDataPolicy, error) {
	return f.policiesByTool[toolID], nil
}

func TestScan_FlagsOrganizationWithNoLimit(t *testing.T) {
	repo := &fakeRepo{
		orgIDs:      []string{"org-1", "org-2"},
		orgHasLimit: map[string]bool{"org-1": true, "org-2": false},
	}
	s := New(repo, nil)

	result := s.Scan(context.Background())

	require.Len(t, result, 1)
	assert.Equal(t, CategoryNoOrgLimit, result[0].Category)
	assert.Contains(t, result[0].Message, "org-2")
}

func TestScan_NoWarningsWhenEveryOrgHasALimit(t *testing.T) {
	repo := &fakeRepo{
		orgIDs:      []string{"org-1"},
		orgHasLimit: map[string]bool{"org-1": true},
	}
	s := New(repo, nil)

	assert.Empty(t, s.Scan(context.Background()))
}

func TestScan_FlagsMalformedTrustPolicyAttributePath(t *testing.T) {
	repo := &fakeRepo{
		tools: []*ent.Tool{{ID: "tool-1", Name: "fetch_url"}},
		policiesByTool: map[string][]*ent.TrustedDataPolicy{
			"tool-1": {
				{ID: "p1", AttributePath: "emails[*].from"},
				{ID: "p2", AttributePath: "emails[0].from"},
			},
		},
	}
	s := New(repo, nil)

	result := s.Scan(context.Background())

	require.Len(t, result, 1)
	assert.Equal(t, CategoryMalformedTrustPolicy, result[0].Category)
	assert.Contains(t, result[0].Message, "fetch_url")
	assert.Contains(t, result[0].ID, "p2")
}
