package service

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

func TestRunSuccessStoresBackupAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "nightly")

	execution, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, err)
	env.coordinator.Run(ctx, s, execution)

	got, err := env.executions.FindByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
	assert.True(t, got.Terminal)
	require.NotNil(t, got.BackupID)

	backup, err := env.backups.FindByID(ctx, *got.BackupID)
	require.NoError(t, err)
	assert.Equal(t, []string{"scheduled", "auto"}, backup.Tags)

	reloaded, err := env.schedules.FindByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastRunAt)
	require.NotNil(t, reloaded.NextRunAt)
	assert.True(t, reloaded.NextRunAt.After(time.Now()))

	assert.Equal(t, []domain.NotificationEvent{domain.EventSuccess}, env.notifier.Events())
}

func TestRetryBound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "flaky")
	env.producer.produce = func(context.Context, domain.ArtifactRequest) (domain.ArtifactResult, error) {
		return domain.ArtifactResult{}, errors.New("source unavailable")
	}

	execution, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, err)
	env.coordinator.Run(ctx, s, execution)

	got, err := env.executions.FindByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, got.Status)
	assert.True(t, got.Terminal)
	assert.Equal(t, s.MaxRetries, got.RetryCount)
	assert.Equal(t, int32(s.MaxRetries+1), env.producer.calls.Load())
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, s.MaxRetries+1, got.ErrorDetail.Attempt)
	assert.Equal(t, "source unavailable", got.ErrorDetail.Cause)

	events := env.notifier.Events()
	require.Len(t, events, s.MaxRetries+1)
	assert.Equal(t, domain.EventFailure, events[len(events)-1])
	for _, e := range events[:len(events)-1] {
		assert.Equal(t, domain.EventRetry, e)
	}
}

func TestRetryRecoversAfterTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "transient")

	env.producer.produce = func(_ context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error) {
		if env.producer.calls.Load() == 1 {
			return domain.ArtifactResult{}, errors.New("busy")
		}
		return domain.ArtifactResult{ArtifactID: "second-try", Size: 10}, nil
	}

	execution, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, err)
	env.coordinator.Run(ctx, s, execution)

	got, err := env.executions.FindByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.ErrorMessage)
}

func TestProducerTimeoutIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "slow")
	s.MaxRetries = 0
	env.coordinator.timeout = 10 * time.Millisecond
	env.producer.produce = func(ctx context.Context, _ domain.ArtifactRequest) (domain.ArtifactResult, error) {
		<-ctx.Done()
		return domain.ArtifactResult{}, ctx.Err()
	}

	execution, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindManual, "alice")
	require.NoError(t, err)
	env.coordinator.Run(ctx, s, execution)

	got, err := env.executions.FindByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.True(t, got.ErrorDetail.Timeout)
}

func TestConcurrentManualTriggers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "manual")

	release := make(chan struct{})
	env.producer.produce = func(ctx context.Context, _ domain.ArtifactRequest) (domain.ArtifactResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.ArtifactResult{}, ctx.Err()
		}
		return domain.ArtifactResult{ArtifactID: "manual-1"}, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.service.TriggerManual(ctx, s.ID, "alice")
		}(i)
	}
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)

	close(release)
	env.coordinator.Wait()

	open, err := env.executions.FindOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestShutdownInterruptsRetryWait(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "interrupted")
	env.coordinator.sleep = sleepContext
	env.coordinator.retry = RetryPolicy{Strategy: RetryLinear, Base: time.Hour}

	failed := make(chan struct{}, 1)
	env.producer.produce = func(context.Context, domain.ArtifactRequest) (domain.ArtifactResult, error) {
		failed <- struct{}{}
		return domain.ArtifactResult{}, errors.New("down")
	}

	execution, err := env.service.TriggerManual(ctx, s.ID, "alice")
	require.NoError(t, err)
	<-failed

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.coordinator.Shutdown(shutdownCtx))

	got, err := env.executions.FindByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminal)
	assert.Equal(t, domain.ExecutionStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, interruptedMessage, *got.ErrorMessage)
}

func TestRecoverInterrupted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "leftover")

	_, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, err)

	closed, err := env.coordinator.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	_, err = env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, err)
}

// faultyExecutions fails selected state writes with a database error.
type faultyExecutions struct {
	repository.ExecutionRepository
	recordFailures int
	beginRetry     error
	complete       error
}

func (r *faultyExecutions) RecordFailure(ctx context.Context, execution *domain.Execution) error {
	if r.recordFailures > 0 {
		r.recordFailures--
		return errors.New("database is locked")
	}
	return r.ExecutionRepository.RecordFailure(ctx, execution)
}

func (r *faultyExecutions) BeginRetry(ctx context.Context, id int64, expectedRetryCount int) error {
	if r.beginRetry != nil {
		return r.beginRetry
	}
	return r.ExecutionRepository.BeginRetry(ctx, id, expectedRetryCount)
}

func (r *faultyExecutions) Complete(ctx context.Context, execution *domain.Execution, backup *domain.Backup) error {
	if r.complete != nil {
		return r.complete
	}
	return r.ExecutionRepository.Complete(ctx, execution, backup)
}

func TestFailedStateWriteClosesExecution(t *testing.T) {
	tests := []struct {
		name   string
		faults *faultyExecutions
	}{
		{"record failure", &faultyExecutions{recordFailures: 1}},
		{"begin retry", &faultyExecutions{beginRetry: errors.New("disk I/O error")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			s := env.createSchedule(t, "flaky")
			env.producer.produce = func(context.Context, domain.ArtifactRequest) (domain.ArtifactResult, error) {
				return domain.ArtifactResult{}, errors.New("source unavailable")
			}
			tt.faults.ExecutionRepository = env.executions
			env.coordinator.executions = tt.faults

			execution, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
			require.NoError(t, err)
			env.coordinator.Run(ctx, s, execution)

			got, err := env.executions.FindByID(ctx, execution.ID)
			require.NoError(t, err)
			assert.True(t, got.Terminal)
			assert.Equal(t, domain.ExecutionStatusFailed, got.Status)
			require.NotNil(t, got.ErrorMessage)
			assert.Equal(t, storeFailedMessage, *got.ErrorMessage)
			assert.Equal(t, int32(1), env.producer.calls.Load())

			// The schedule is free for the next run.
			_, err = env.coordinator.Claim(ctx, s, domain.ExecutionKindManual, "alice")
			require.NoError(t, err)
		})
	}
}

func TestStaleRetryLeavesExecutionToOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "contended")
	env.producer.produce = func(context.Context, domain.ArtifactRequest) (domain.ArtifactResult, error) {
		return domain.ArtifactResult{}, errors.New("source unavailable")
	}
	env.coordinator.executions = &faultyExecutions{
		ExecutionRepository: env.executions,
		beginRetry:          repository.ErrStale,
	}

	execution, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, err)
	env.coordinator.Run(ctx, s, execution)

	got, err := env.executions.FindByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.False(t, got.Terminal)
	assert.Equal(t, []domain.NotificationEvent{domain.EventRetry}, env.notifier.Events())
}

func TestUnrecordedArtifactIsRemoved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "orphan")
	env.coordinator.executions = &faultyExecutions{
		ExecutionRepository: env.executions,
		complete:            errors.New("database is locked"),
	}

	execution, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindScheduled, "scheduler")
	require.NoError(t, err)
	env.coordinator.Run(ctx, s, execution)

	env.store.mu.Lock()
	assert.Equal(t, []string{fmt.Sprintf("mem:artifact-%d-1", execution.ID)}, env.store.deleted)
	env.store.mu.Unlock()

	got, err := env.executions.FindByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminal)
	assert.Equal(t, domain.ExecutionStatusFailed, got.Status)
	assert.Nil(t, got.BackupID)
	assert.Equal(t, []domain.NotificationEvent{domain.EventFailure}, env.notifier.Events())
}

func TestRetryPolicyDelay(t *testing.T) {
	linear := RetryPolicy{Strategy: RetryLinear, Base: time.Minute, Max: 3 * time.Minute}
	assert.Equal(t, time.Minute, linear.Delay(1))
	assert.Equal(t, 2*time.Minute, linear.Delay(2))
	assert.Equal(t, 3*time.Minute, linear.Delay(5))

	exponential := RetryPolicy{Strategy: RetryExponential, Base: time.Second, Max: 10 * time.Second}
	assert.Equal(t, time.Second, exponential.Delay(1))
	assert.Equal(t, 2*time.Second, exponential.Delay(2))
	assert.Equal(t, 4*time.Second, exponential.Delay(3))
	assert.Equal(t, 10*time.Second, exponential.Delay(10))

	_, err := ParseRetryStrategy("fibonacci")
	assert.Error(t, err)
}
