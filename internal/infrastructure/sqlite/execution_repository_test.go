package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

func TestClaimIsSingleFlight(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewExecutionRepository(db)
	s := createSchedule(t, db, "nightly")

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- repo.Claim(ctx, domain.NewExecution(s, domain.ExecutionKindScheduled, "scheduler"))
		}()
	}
	wg.Wait()
	close(results)

	claimed, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			claimed++
		case errors.Is(err, repository.ErrAlreadyRunning):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, claimed)
	assert.Equal(t, workers-1, rejected)

	open, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRetryLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewExecutionRepository(db)
	s := createSchedule(t, db, "nightly")
	s.MaxRetries = 1

	e := domain.NewExecution(s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, repo.Claim(ctx, e))

	e.Fail(time.Now(), "connection refused", domain.ExecutionErrorDetail{Attempt: 1, Cause: "connection refused"}, false)
	require.NoError(t, repo.RecordFailure(ctx, e))

	// Still open, so a second claim is rejected.
	err := repo.Claim(ctx, domain.NewExecution(s, domain.ExecutionKindManual, "alice"))
	assert.ErrorIs(t, err, repository.ErrAlreadyRunning)

	assert.ErrorIs(t, repo.BeginRetry(ctx, e.ID, 5), repository.ErrStale)
	require.NoError(t, repo.BeginRetry(ctx, e.ID, 0))
	assert.ErrorIs(t, repo.BeginRetry(ctx, e.ID, 0), repository.ErrStale)

	got, err := repo.FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusRunning, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.FinishedAt)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, "connection refused", got.ErrorDetail.Cause)
	assert.Equal(t, "nightly", got.Metadata.ScheduleName)

	got.Fail(time.Now(), "connection refused", domain.ExecutionErrorDetail{Attempt: 2}, false)
	require.NoError(t, repo.RecordFailure(ctx, got))
	// retry budget exhausted
	assert.ErrorIs(t, repo.BeginRetry(ctx, e.ID, 1), repository.ErrStale)
}

func TestCompleteInsertsBackup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewExecutionRepository(db)
	backups := NewBackupRepository(db)
	s := createSchedule(t, db, "nightly")

	e := domain.NewExecution(s, domain.ExecutionKindManual, "alice")
	require.NoError(t, repo.Claim(ctx, e))

	result := domain.ArtifactResult{ArtifactID: "art-1", Size: 2048, ItemCount: 12, Location: "local:art-1"}
	e.Complete(time.Now(), result)
	b := domain.NewBackup(e, result, time.Now())
	require.NoError(t, repo.Complete(ctx, e, b))

	got, err := repo.FindByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
	assert.True(t, got.Terminal)
	require.NotNil(t, got.BackupID)
	assert.Equal(t, "art-1", *got.BackupID)

	stored, err := backups.FindByID(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"manual", "user-triggered"}, stored.Tags)
	assert.Equal(t, domain.CategoryManual, stored.Category)

	// A second completion lost the race and must not leave a backup behind.
	other := domain.NewBackup(e, domain.ArtifactResult{ArtifactID: "art-2"}, time.Now())
	assert.ErrorIs(t, repo.Complete(ctx, e, other), repository.ErrStale)
	_, err = backups.FindByID(ctx, "art-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// The schedule can be claimed again now.
	require.NoError(t, repo.Claim(ctx, domain.NewExecution(s, domain.ExecutionKindScheduled, "scheduler")))
}

func TestExecutionStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewExecutionRepository(db)
	s := createSchedule(t, db, "nightly")
	start := time.Now().Add(-time.Hour)
	n := 0

	run := func(ok bool, seconds int) {
		n++
		e := domain.NewExecution(s, domain.ExecutionKindScheduled, "scheduler")
		e.StartedAt = start
		require.NoError(t, repo.Claim(ctx, e))
		end := start.Add(time.Duration(seconds) * time.Second)
		if ok {
			result := domain.ArtifactResult{ArtifactID: fmt.Sprintf("art-%d", n)}
			e.Complete(end, result)
			require.NoError(t, repo.Complete(ctx, e, domain.NewBackup(e, result, end)))
			return
		}
		e.Fail(end, "boom", domain.ExecutionErrorDetail{}, true)
		require.NoError(t, repo.RecordFailure(ctx, e))
	}
	run(true, 10)
	run(true, 30)
	run(false, 5)

	stats, err := repo.Stats(ctx, s.ID, start.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 20.0, stats.AvgDurationSeconds, 0.01)

	empty, err := repo.Stats(ctx, s.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}
