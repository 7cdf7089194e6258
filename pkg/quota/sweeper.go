package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codeready-toolchain/gateway/pkg/repository"
)

// sweepOrganization resets orgID's limits if they are eligible per its own
// configured cleanup interval. Resets are idempotent relative to
// lastCleanup, so concurrent callers (the opportunistic pre-check path and
// the scheduled sweep) never double-subtract usage.
func sweepOrganization(ctx context.Context, repo repository.Repository, orgID string) error {
	interval, err := repo.OrganizationCleanupInterval(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to resolve cleanup interval: %w", err)
	}
	if err := repo.SweepExpiredLimits(ctx, orgID, interval, time.Now()); err != nil {
		return fmt.Errorf("failed to sweep limits: %w", err)
	}
	return nil
}

// Sweeper periodically scans every organization and resets any limit whose
// lastCleanup is overdue relative to that organization's own interval. The
// outer cadence is fixed and coarse (cron-driven); the actual per-org
// eligibility check happens inside sweepOrganization.
type Sweeper struct {
	repo   repository.Repository
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper builds a Sweeper. schedule is a standard 5-field cron
// expression; "@every 5m" is a reasonable default.
func NewSweeper(repo repository.Repository, logger *slog.Logger, schedule string) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{repo: repo, logger: logger, cron: cron.New()}

	_, err := s.cron.AddFunc(schedule, s.sweepAll)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reset sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) sweepAll() {
	ctx := context.Background()
	orgIDs, err := s.repo.ListOrganizationIDs(ctx)
	if err != nil {
		s.logger.Error("quota: failed to list organizations for reset sweep", "error", err)
		return
	}

	for _, orgID := range orgIDs {
		if err := sweepOrganization(ctx, s.repo, orgID); err != nil {
			s.logger.Warn("quota: scheduled reset sweep failed", "org_id", orgID, "error", err)
		}
	}
}

// Start begins the scheduled sweep in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() { <-s.cron.Stop().Done() }
