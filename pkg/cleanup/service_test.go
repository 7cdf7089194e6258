package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gateway/pkg/config"
	"github.com/codeready-toolchain/gateway/pkg/repository"
)

type fakeRepo struct {
	repository.Repository

	deleted  int
	cutoffs  []time.Time
	callErr  error
}

func (f *fakeRepo) SoftDeleteInteractionsOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.callErr != nil {
		return 0, f.callErr
	}
	return f.deleted, nil
}

func TestService_PurgeUsesRetentionCutoff(t *testing.T) {
	repo := &fakeRepo{deleted: 3}
	svc := NewService(&config.ResolvedRetentionConfig{
		InteractionRetentionDays: 90,
		CleanupInterval:          time.Hour,
	}, repo, nil)

	svc.purge(context.Background())

	require.Len(t, repo.cutoffs, 1)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -90), repo.cutoffs[0], time.Minute)
}

func TestService_StartStopRunsAtLeastOnce(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(&config.ResolvedRetentionConfig{
		InteractionRetentionDays: 30,
		CleanupInterval:          time.Hour,
	}, repo, nil)

	svc.Start(context.Background())
	svc.Stop()

	assert.Len(t, repo.cutoffs, 1)
}

func TestService_SweepErrorIsLoggedNotFatal(t *testing.T) {
	repo := &fakeRepo{callErr: assertError{}}
	svc := NewService(&config.ResolvedRetentionConfig{
		InteractionRetentionDays: 30,
		CleanupInterval:          time.Hour,
	}, repo, nil)

	assert.NotPanics(t, func() { svc.purge(context.Background()) })
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
