// Package warnings implements the system warnings surface: a read-only
// scan over the current configuration surfacing problems that don't fail
// any individual request but silently weaken enforcement — an organization
// with no spend limit, a tool whose trusted-data policy can never match.
package warnings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/gateway/pkg/attrpath"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

// Warning category constants, mirroring the category/detail shape a
// dashboard would group on.
const (
	CategoryNoOrgLimit           = "no_organization_limit"
	CategoryMalformedTrustPolicy = "malformed_trust_policy"
)

// Warning is one non-fatal configuration problem detected by Scan.
type Warning struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
}

// Service scans the repository for configuration warnings on demand. Unlike
// a runtime health monitor, there is no background state to maintain here —
// every configuration problem it reports is recomputed fresh from the
// current repository state on each call.
type Service struct {
	repo   repository.Repository
	logger *slog.Logger
}

// New builds a Service.
func New(repo repository.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Scan returns every currently-active warning. A failure resolving one
// category is logged and excluded from the result rather than failing the
// whole scan — warnings are diagnostic, not load-bearing.
func (s *Service) Scan(ctx context.Context) []Warning {
	var out []Warning
	out = append(out, s.organizationsWithoutLimits(ctx)...)
	out = append(out, s.malformedTrustPolicies(ctx)...)
	return out
}

func (s *Service) organizationsWithoutLimits(ctx context.Context) []Warning {
	orgIDs, err := s.repo.ListOrganizationIDs(ctx)
	if err != nil {
		s.logger.Warn("warnings: failed to list organizations", "error", err)
		return nil
	}

	var out []Warning
	for _, orgID := range orgIDs {
		hasLimit, err := s.repo.OrganizationHasLimit(ctx, orgID)
		if err != nil {
			s.logger.Warn("warnings: failed to check organization limits", "org_id", orgID, "error", err)
			continue
		}
		if hasLimit {
			continue
		}
		out = append(out, Warning{
			ID:       "no-limit-" + orgID,
			Category: CategoryNoOrgLimit,
			Message:  fmt.Sprintf("Organization %q has no configured limit: usage is unbounded.", orgID),
			Details:  orgID,
		})
	}
	return out
}

func (s *Service) malformedTrustPolicies(ctx context.Context) []Warning {
	tools, err := s.repo.ListAllTools(ctx)
	if err != nil {
		s.logger.Warn("warnings: failed to list tools", "error", err)
		return nil
	}

	var out []Warning
	for _, t := range tools {
		policies, err := s.repo.ListTrustedDataPoliciesForTool(ctx, t.ID)
		if err != nil {
			s.logger.Warn("warnings: failed to list trusted-data policies", "tool_id", t.ID, "error", err)
			continue
		}
		for _, p := range policies {
			if err := attrpath.ValidatePath(p.AttributePath); err != nil {
				out = append(out, Warning{
					ID:       "malformed-policy-" + p.ID,
					Category: CategoryMalformedTrustPolicy,
					Message:  fmt.Sprintf("Trusted-data policy %q on tool %q has a malformed attribute path.", p.ID, t.Name),
					Details:  err.Error(),
				})
			}
		}
	}
	return out
}
