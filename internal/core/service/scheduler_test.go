package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

func newTestLoop(env *testEnv) *SchedulerLoop {
	return NewSchedulerLoop(env.schedules, env.policies, env.coordinator, env.retention, zap.NewNop(), time.Minute, "UTC")
}

func TestTickRunsDueSchedules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	loop := newTestLoop(env)

	due := env.createSchedule(t, "due")
	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.schedules.SetNextRun(ctx, due.ID, &past, nil))
	env.createSchedule(t, "not-due")

	loop.Tick(ctx)
	env.coordinator.Wait()

	executions, err := env.executions.List(ctx, repository.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, due.ID, executions[0].ScheduleID)
	assert.Equal(t, domain.ExecutionKindScheduled, executions[0].Kind)
	assert.Equal(t, domain.ExecutionStatusCompleted, executions[0].Status)

	reloaded, err := env.schedules.FindByID(ctx, due.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.NextRunAt)
	assert.True(t, reloaded.NextRunAt.After(time.Now()))
}

func TestTickSkipsRunningSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	loop := newTestLoop(env)

	s := env.createSchedule(t, "busy")
	_, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindManual, "alice")
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.schedules.SetNextRun(ctx, s.ID, &past, nil))

	loop.Tick(ctx)
	env.coordinator.Wait()

	count, err := env.executions.Count(ctx, repository.ExecutionFilter{ScheduleID: &s.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Zero(t, env.producer.calls.Load())

	// The missed occurrence is consumed rather than retried every tick.
	reloaded, err := env.schedules.FindByID(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.NextRunAt)
	assert.True(t, reloaded.NextRunAt.After(time.Now()))
}

func TestTickRunsPolicyCleanupWhenDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	loop := newTestLoop(env)

	start := time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC) // Saturday
	current := start
	loop.now = func() time.Time { return current }

	loop.Tick(ctx)
	policy, err := env.policies.FindDefault(ctx)
	require.NoError(t, err)

	loop.mu.Lock()
	slot := loop.cleanups[policy.ID]
	loop.mu.Unlock()
	require.NotNil(t, slot)
	assert.Equal(t, time.Date(2024, 1, 7, 3, 0, 0, 0, time.UTC), slot.next)

	current = slot.next.Add(time.Minute)
	loop.Tick(ctx)
	loop.wg.Wait()

	loop.mu.Lock()
	defer loop.mu.Unlock()
	assert.Equal(t, time.Date(2024, 1, 14, 3, 0, 0, 0, time.UTC), loop.cleanups[policy.ID].next)
	assert.False(t, loop.cleanups[policy.ID].running)
}
