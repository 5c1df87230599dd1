package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

func TestScheduleCreateAndFind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewScheduleRepository(db)

	s := domain.NewSchedule("hourly", "0 * * * *", "Europe/Amsterdam", domain.BackupTypeIncremental, "alice")
	s.Categories = []string{"network", "users"}
	require.NoError(t, repo.Create(ctx, s))
	require.NotZero(t, s.ID)

	got, err := repo.FindByName(ctx, "hourly")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, []string{"network", "users"}, got.Categories)
	assert.Equal(t, domain.BackupTypeIncremental, got.BackupType)
	assert.Nil(t, got.RetentionPolicyID)

	dup := domain.NewSchedule("hourly", "0 * * * *", "UTC", domain.BackupTypeFull, "alice")
	assert.ErrorIs(t, repo.Create(ctx, dup), repository.ErrDuplicate)

	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestScheduleFindDue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewScheduleRepository(db)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	due := createSchedule(t, db, "due")
	require.NoError(t, repo.SetNextRun(ctx, due.ID, &past, nil))

	later := createSchedule(t, db, "later")
	require.NoError(t, repo.SetNextRun(ctx, later.ID, &future, nil))

	disabled := createSchedule(t, db, "disabled")
	disabled.Enabled = false
	require.NoError(t, repo.Update(ctx, disabled))
	require.NoError(t, repo.SetNextRun(ctx, disabled.ID, &past, nil))

	createSchedule(t, db, "never")

	schedules, err := repo.FindDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, "due", schedules[0].Name)
}

func TestScheduleUpdateLeavesRunTimesAlone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewScheduleRepository(db)

	s := createSchedule(t, db, "nightly")
	stale := *s

	next := time.Date(2030, 1, 2, 3, 0, 0, 0, time.UTC)
	last := time.Date(2030, 1, 1, 3, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetNextRun(ctx, s.ID, &next, &last))

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	stale.NextRunAt = &old
	stale.LastRunAt = nil
	stale.Description = "edited"
	require.NoError(t, repo.Update(ctx, &stale))

	got, err := repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Description)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))
	require.NotNil(t, got.LastRunAt)
	assert.True(t, last.Equal(*got.LastRunAt))
}

func TestScheduleDeleteRefusedWhileRunning(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewScheduleRepository(db)
	executions := NewExecutionRepository(db)

	s := createSchedule(t, db, "busy")
	e := domain.NewExecution(s, domain.ExecutionKindManual, "alice")
	require.NoError(t, executions.Claim(ctx, e))

	assert.ErrorIs(t, repo.Delete(ctx, s.ID), repository.ErrInUse)

	now := time.Now()
	e.Fail(now, "boom", domain.ExecutionErrorDetail{Cause: "boom"}, true)
	require.NoError(t, executions.RecordFailure(ctx, e))

	require.NoError(t, repo.Delete(ctx, s.ID))
	assert.ErrorIs(t, repo.Delete(ctx, s.ID), repository.ErrNotFound)
}

func TestScheduleListFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewScheduleRepository(db)

	for _, name := range []string{"a", "b", "c"} {
		createSchedule(t, db, name)
	}
	b, err := repo.FindByName(ctx, "b")
	require.NoError(t, err)
	b.Enabled = false
	require.NoError(t, repo.Update(ctx, b))

	filter := repository.ScheduleFilter{ListFilter: util.ListFilter{
		Filters: []util.QueryFilter{util.Eq("enabled", true)},
		Order:   []util.OrderClause{{Field: "name", Direction: util.OrderDesc}},
	}}
	schedules, err := repo.List(ctx, filter)
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, "c", schedules[0].Name)
	assert.Equal(t, "a", schedules[1].Name)

	count, err := repo.Count(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
