package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/crontab"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/internal/core/repository"
)

const (
	statusRecentExecutions = 10
	statusPeriodDays       = 30
)

// ScheduleStats summarises terminal executions over a trailing period.
type ScheduleStats struct {
	PeriodDays         int
	Total              int
	Successful         int
	Failed             int
	SuccessRate        float64
	AvgDurationSeconds float64
}

type ScheduleStatus struct {
	Schedule            *domain.Schedule
	RecentExecutions    []*domain.Execution
	Stats               ScheduleStats
	SecondsUntilNextRun *int64
}

type ScheduleService struct {
	scheduleRepo    repository.ScheduleRepository
	executionRepo   repository.ExecutionRepository
	policyRepo      repository.RetentionPolicyRepository
	coordinator     *ExecutionCoordinator
	notifier        Notifier
	logger          *zap.Logger
	defaultTimezone string
	now             func() time.Time
}

func NewScheduleService(
	scheduleRepo repository.ScheduleRepository,
	executionRepo repository.ExecutionRepository,
	policyRepo repository.RetentionPolicyRepository,
	coordinator *ExecutionCoordinator,
	notifier Notifier,
	logger *zap.Logger,
	defaultTimezone string,
) *ScheduleService {
	if defaultTimezone == "" {
		defaultTimezone = "UTC"
	}
	return &ScheduleService{
		scheduleRepo:    scheduleRepo,
		executionRepo:   executionRepo,
		policyRepo:      policyRepo,
		coordinator:     coordinator,
		notifier:        notifier,
		logger:          logger.Named("schedules"),
		defaultTimezone: defaultTimezone,
		now:             time.Now,
	}
}

// CreateSchedule validates the definition and stores it with its first
// next_run_at.
func (s *ScheduleService) CreateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	if schedule.Timezone == "" {
		schedule.Timezone = s.defaultTimezone
	}
	if schedule.BackupType == "" {
		schedule.BackupType = domain.BackupTypeFull
	}
	if schedule.Categories == nil {
		schedule.Categories = []string{}
	}
	if err := s.validateSchedule(ctx, schedule); err != nil {
		return err
	}

	now := s.now().UTC()
	next, err := nextRunFor(schedule, now)
	if err != nil {
		return validationError("%v", err)
	}
	schedule.NextRunAt = next
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if err := s.scheduleRepo.Create(ctx, schedule); err != nil {
		return translate(err, fmt.Sprintf("schedule %q", schedule.Name))
	}
	return nil
}

// UpdateSchedule applies patch. next_run_at is recomputed when the cron
// expression, timezone or enabled flag change, and subscribers hear about a
// schedule being disabled.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, id int64, patch domain.SchedulePatch) (*domain.Schedule, error) {
	current, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, timingChanged := patch.Apply(*current)
	if err := s.validateSchedule(ctx, &updated); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if timingChanged {
		next, err := nextRunFor(&updated, now)
		if err != nil {
			return nil, validationError("%v", err)
		}
		updated.NextRunAt = next
	}
	updated.UpdatedAt = now

	if err := s.scheduleRepo.Update(ctx, &updated); err != nil {
		return nil, translate(err, fmt.Sprintf("schedule %q", updated.Name))
	}
	// The scheduler may have advanced next_run_at since the read above; only
	// a timing change overrides it.
	if timingChanged {
		if err := s.scheduleRepo.SetNextRun(ctx, id, updated.NextRunAt, nil); err != nil {
			return nil, translate(err, "schedule")
		}
	}

	if current.Enabled && !updated.Enabled {
		s.notifyDisabled(ctx, updated)
	}
	return s.GetSchedule(ctx, id)
}

// SetEnabled is UpdateSchedule restricted to the enabled flag.
func (s *ScheduleService) SetEnabled(ctx context.Context, id int64, enabled bool) (*domain.Schedule, error) {
	return s.UpdateSchedule(ctx, id, domain.SchedulePatch{Enabled: &enabled})
}

// notifyDisabled dispatches in the background so a slow channel neither
// delays the caller nor dies with its request.
func (s *ScheduleService) notifyDisabled(ctx context.Context, schedule domain.Schedule) {
	if s.notifier == nil {
		return
	}
	dispatch := func(ctx context.Context) {
		msg := notify.BuildMessage(domain.EventScheduleDisabled, &schedule, nil, s.now())
		if _, err := s.notifier.Dispatch(ctx, &schedule, nil, domain.EventScheduleDisabled, msg); err != nil {
			s.logger.Error("failed to notify schedule disabled", zap.Int64("schedule_id", schedule.ID), zap.Error(err))
		}
	}
	if s.coordinator == nil {
		dispatch(context.WithoutCancel(ctx))
		return
	}
	s.coordinator.Go(dispatch)
}

// DeleteSchedule deletes a schedule unless it has an open execution
func (s *ScheduleService) DeleteSchedule(ctx context.Context, id int64) error {
	err := s.scheduleRepo.Delete(ctx, id)
	if errors.Is(err, repository.ErrInUse) {
		return &ServiceError{Kind: KindConflict, Message: fmt.Sprintf("schedule %d has a running execution", id), Err: err}
	}
	if err != nil {
		return translate(err, "schedule")
	}
	return nil
}

// GetSchedule retrieves a schedule by ID
func (s *ScheduleService) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	schedule, err := s.scheduleRepo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "schedule")
	}
	return schedule, nil
}

// GetScheduleByName retrieves a schedule by its unique name
func (s *ScheduleService) GetScheduleByName(ctx context.Context, name string) (*domain.Schedule, error) {
	schedule, err := s.scheduleRepo.FindByName(ctx, name)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("schedule %q", name))
	}
	return schedule, nil
}

// ListSchedules lists schedules with filtering
func (s *ScheduleService) ListSchedules(ctx context.Context, filter repository.ScheduleFilter) ([]*domain.Schedule, error) {
	return s.scheduleRepo.List(ctx, filter)
}

// CountSchedules counts schedules with filtering
func (s *ScheduleService) CountSchedules(ctx context.Context, filter repository.ScheduleFilter) (int, error) {
	return s.scheduleRepo.Count(ctx, filter)
}

// TriggerManual starts a manual run and returns the running execution.
func (s *ScheduleService) TriggerManual(ctx context.Context, id int64, principal string) (*domain.Execution, error) {
	schedule, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.coordinator.TriggerManual(ctx, schedule, principal)
}

func (s *ScheduleService) GetScheduleStatus(ctx context.Context, id int64) (*ScheduleStatus, error) {
	schedule, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}

	recent, err := s.executionRepo.Recent(ctx, id, statusRecentExecutions)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent executions: %w", err)
	}

	now := s.now()
	raw, err := s.executionRepo.Stats(ctx, id, now.AddDate(0, 0, -statusPeriodDays))
	if err != nil {
		return nil, fmt.Errorf("failed to load execution stats: %w", err)
	}

	stats := ScheduleStats{
		PeriodDays:         statusPeriodDays,
		Total:              raw.Total,
		Successful:         raw.Successful,
		Failed:             raw.Failed,
		AvgDurationSeconds: raw.AvgDurationSeconds,
	}
	if raw.Total > 0 {
		stats.SuccessRate = float64(raw.Successful) / float64(raw.Total) * 100
	}

	status := &ScheduleStatus{
		Schedule:         schedule,
		RecentExecutions: recent,
		Stats:            stats,
	}
	if schedule.Enabled && schedule.NextRunAt != nil {
		seconds := int64(schedule.NextRunAt.Sub(now).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		status.SecondsUntilNextRun = &seconds
	}
	return status, nil
}

// validateSchedule validates a schedule
func (s *ScheduleService) validateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	if schedule.Name == "" {
		return validationError("name is required")
	}
	if err := crontab.Validate(schedule.CronExpression); err != nil {
		return validationError("%v", err)
	}
	if _, err := crontab.LoadLocation(schedule.Timezone); err != nil {
		return validationError("%v", err)
	}
	if !schedule.BackupType.Valid() {
		return validationError("invalid backup_type %q (expected full, incremental or differential)", schedule.BackupType)
	}
	if schedule.MaxBackupCount < 1 {
		return validationError("max_backup_count must be at least 1")
	}
	if schedule.RetentionDays < 1 {
		return validationError("retention_days must be at least 1")
	}
	if schedule.MaxRetries < 0 {
		return validationError("max_retries must not be negative")
	}

	if schedule.RetentionPolicyID != nil {
		if _, err := s.policyRepo.FindByID(ctx, *schedule.RetentionPolicyID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return validationError("retention policy %d does not exist", *schedule.RetentionPolicyID)
			}
			return fmt.Errorf("failed to check retention policy: %w", err)
		}
	}

	return nil
}
