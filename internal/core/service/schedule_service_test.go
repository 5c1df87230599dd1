package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/internal/core/repository"
)

func TestCreateScheduleComputesNextRun(t *testing.T) {
	env := newTestEnv(t)
	fixed := time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC)
	env.service.now = func() time.Time { return fixed }

	s := domain.NewSchedule("nightly", "0 3 * * *", "", "", "alice")
	s.Categories = nil
	require.NoError(t, env.service.CreateSchedule(context.Background(), s))

	assert.NotZero(t, s.ID)
	assert.Equal(t, "UTC", s.Timezone)
	assert.Equal(t, domain.BackupTypeFull, s.BackupType)
	assert.Equal(t, []string{}, s.Categories)
	require.NotNil(t, s.NextRunAt)
	assert.Equal(t, time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC), s.NextRunAt.UTC())
}

func TestCreateScheduleValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	missing := int64(999)

	tests := []struct {
		name   string
		mutate func(s *domain.Schedule)
	}{
		{"empty name", func(s *domain.Schedule) { s.Name = "" }},
		{"bad cron", func(s *domain.Schedule) { s.CronExpression = "61 * * * *" }},
		{"bad timezone", func(s *domain.Schedule) { s.Timezone = "Mars/Olympus" }},
		{"bad backup type", func(s *domain.Schedule) { s.BackupType = "snapshot" }},
		{"zero max backups", func(s *domain.Schedule) { s.MaxBackupCount = 0 }},
		{"zero retention days", func(s *domain.Schedule) { s.RetentionDays = 0 }},
		{"negative retries", func(s *domain.Schedule) { s.MaxRetries = -1 }},
		{"unknown policy", func(s *domain.Schedule) { s.RetentionPolicyID = &missing }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.NewSchedule("invalid", "0 3 * * *", "UTC", domain.BackupTypeFull, "alice")
			tt.mutate(s)
			err := env.service.CreateSchedule(ctx, s)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	env.createSchedule(t, "taken")
	dup := domain.NewSchedule("taken", "0 3 * * *", "UTC", domain.BackupTypeFull, "alice")
	assert.True(t, IsConflict(env.service.CreateSchedule(ctx, dup)))
}

func TestDisablingScheduleNotifiesAndClearsNextRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "nightly")

	updated, err := env.service.SetEnabled(ctx, s.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Nil(t, updated.NextRunAt)
	env.coordinator.Wait()
	assert.Equal(t, []domain.NotificationEvent{domain.EventScheduleDisabled}, env.notifier.Events())

	// Disabling twice is not a transition.
	_, err = env.service.SetEnabled(ctx, s.ID, false)
	require.NoError(t, err)
	env.coordinator.Wait()
	assert.Len(t, env.notifier.Events(), 1)

	updated, err = env.service.SetEnabled(ctx, s.ID, true)
	require.NoError(t, err)
	assert.NotNil(t, updated.NextRunAt)
}

func TestUpdateScheduleKeepsNextRunUnlessTimingChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "nightly")
	before := *s.NextRunAt

	description := "database dump"
	updated, err := env.service.UpdateSchedule(ctx, s.ID, domain.SchedulePatch{Description: &description})
	require.NoError(t, err)
	assert.True(t, before.Equal(*updated.NextRunAt))

	cron := "30 * * * *"
	updated, err = env.service.UpdateSchedule(ctx, s.ID, domain.SchedulePatch{CronExpression: &cron})
	require.NoError(t, err)
	assert.Equal(t, 30, updated.NextRunAt.Minute())

	_, err = env.service.UpdateSchedule(ctx, 999, domain.SchedulePatch{Description: &description})
	assert.True(t, IsNotFound(err))
}

// interleavingScheduleRepo runs before once, after the row has been read
// and before it is handed back.
type interleavingScheduleRepo struct {
	repository.ScheduleRepository
	before func()
}

func (r *interleavingScheduleRepo) FindByID(ctx context.Context, id int64) (*domain.Schedule, error) {
	s, err := r.ScheduleRepository.FindByID(ctx, id)
	if r.before != nil {
		before := r.before
		r.before = nil
		before()
	}
	return s, err
}

func TestUpdateScheduleDoesNotRewindTick(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	loop := newTestLoop(env)

	s := env.createSchedule(t, "nightly")
	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.schedules.SetNextRun(ctx, s.ID, &past, nil))

	schedules := &interleavingScheduleRepo{ScheduleRepository: env.schedules}
	schedules.before = func() {
		loop.Tick(ctx)
		env.coordinator.Wait()
	}
	svc := NewScheduleService(schedules, env.executions, env.policies, env.coordinator, env.notifier, zap.NewNop(), "UTC")

	description := "edited while due"
	updated, err := svc.UpdateSchedule(ctx, s.ID, domain.SchedulePatch{Description: &description})
	require.NoError(t, err)
	assert.Equal(t, description, updated.Description)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now()))

	loop.Tick(ctx)
	env.coordinator.Wait()

	count, err := env.executions.Count(ctx, repository.ExecutionFilter{ScheduleID: &s.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type gatedNotifier struct {
	release chan struct{}

	mu     sync.Mutex
	events []domain.NotificationEvent
	errs   []error
}

func (n *gatedNotifier) Dispatch(ctx context.Context, _ *domain.Schedule, _ *domain.Execution, event domain.NotificationEvent, _ domain.NotificationMessage) (notify.Report, error) {
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.errs = append(n.errs, ctx.Err())
	return notify.Report{Sent: 1}, nil
}

func TestDisableNotificationOutlivesRequest(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSchedule(t, "nightly")

	notifier := &gatedNotifier{release: make(chan struct{})}
	svc := NewScheduleService(env.schedules, env.executions, env.policies, env.coordinator, notifier, zap.NewNop(), "UTC")

	ctx, cancel := context.WithCancel(context.Background())
	updated, err := svc.SetEnabled(ctx, s.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	// The request is gone before the slow channel answers.
	cancel()
	close(notifier.release)
	env.coordinator.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []domain.NotificationEvent{domain.EventScheduleDisabled}, notifier.events)
	assert.Equal(t, []error{nil}, notifier.errs)
}

func TestDeleteScheduleRefusedWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "nightly")

	_, err := env.coordinator.Claim(ctx, s, domain.ExecutionKindManual, "alice")
	require.NoError(t, err)

	assert.True(t, IsConflict(env.service.DeleteSchedule(ctx, s.ID)))
	assert.True(t, IsNotFound(env.service.DeleteSchedule(ctx, 999)))
}

func TestScheduleStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s := env.createSchedule(t, "nightly")

	_, err := env.service.TriggerManual(ctx, s.ID, "alice")
	require.NoError(t, err)
	env.coordinator.Wait()

	status, err := env.service.GetScheduleStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, status.Schedule.ID)
	require.Len(t, status.RecentExecutions, 1)
	assert.Equal(t, domain.ExecutionStatusCompleted, status.RecentExecutions[0].Status)
	assert.Equal(t, 1, status.Stats.Total)
	assert.Equal(t, 1, status.Stats.Successful)
	assert.InDelta(t, 100.0, status.Stats.SuccessRate, 0.001)
	require.NotNil(t, status.SecondsUntilNextRun)
	assert.Positive(t, *status.SecondsUntilNextRun)

	_, err = env.service.GetScheduleStatus(ctx, 999)
	assert.True(t, IsNotFound(err))
}
