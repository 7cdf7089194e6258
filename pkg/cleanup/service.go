// Package cleanup provides the background interaction-history retention
// sweep: soft-deletes interactions past their retention window rather than
// removing them, so audit history survives but stops surfacing through the
// normal read paths.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/gateway/pkg/config"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

// Service periodically soft-deletes interaction rows older than the
// configured retention window. All operations are idempotent and safe to run from
// multiple instances.
type Service struct {
	config *config.ResolvedRetentionConfig
	repo   repository.Repository
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(cfg *config.ResolvedRetentionConfig, repo repository.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{config: cfg, repo: repo, logger: logger}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup: retention service started",
		"interaction_retention_days", s.config.InteractionRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup: retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.purge(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(ctx)
		}
	}
}

func (s *Service) purge(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.InteractionRetentionDays)
	count, err := s.repo.SoftDeleteInteractionsOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("cleanup: interaction retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("cleanup: soft-deleted expired interactions", "count", count, "cutoff", cutoff)
	}
}
