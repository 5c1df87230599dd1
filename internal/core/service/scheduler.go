package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/crontab"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

type cleanupSlot struct {
	expr    string
	next    time.Time
	running bool
}

// SchedulerLoop fires due schedules and policy cleanups on a fixed tick.
// A tick never waits for the runs it starts.
type SchedulerLoop struct {
	schedules   repository.ScheduleRepository
	policies    repository.RetentionPolicyRepository
	coordinator *ExecutionCoordinator
	retention   *RetentionService
	logger      *zap.Logger
	interval    time.Duration
	timezone    string
	now         func() time.Time

	mu       sync.Mutex
	cleanups map[int64]*cleanupSlot
	wg       sync.WaitGroup
}

func NewSchedulerLoop(
	schedules repository.ScheduleRepository,
	policies repository.RetentionPolicyRepository,
	coordinator *ExecutionCoordinator,
	retention *RetentionService,
	logger *zap.Logger,
	interval time.Duration,
	timezone string,
) *SchedulerLoop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SchedulerLoop{
		schedules:   schedules,
		policies:    policies,
		coordinator: coordinator,
		retention:   retention,
		logger:      logger.Named("scheduler"),
		interval:    interval,
		timezone:    timezone,
		now:         time.Now,
		cleanups:    make(map[int64]*cleanupSlot),
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight cleanups.
// Executions are owned by the coordinator and stopped through its Shutdown.
func (l *SchedulerLoop) Run(ctx context.Context) error {
	l.logger.Info("scheduler started", zap.Duration("tick_interval", l.interval))

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			l.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass.
func (l *SchedulerLoop) Tick(ctx context.Context) {
	now := l.now()
	l.fireDue(ctx, now)
	l.fireCleanups(ctx, now)
}

func (l *SchedulerLoop) fireDue(ctx context.Context, now time.Time) {
	due, err := l.schedules.FindDue(ctx, now)
	if err != nil {
		l.logger.Error("failed to find due schedules", zap.Error(err))
		return
	}

	for _, schedule := range due {
		log := l.logger.With(zap.Int64("schedule_id", schedule.ID))

		execution, err := l.coordinator.Claim(ctx, schedule, domain.ExecutionKindScheduled, "scheduler")
		if err != nil && !errors.Is(err, repository.ErrAlreadyRunning) {
			log.Error("failed to claim execution", zap.Error(err))
			continue
		}

		// The occurrence is consumed either way; an open execution means
		// this one is skipped rather than queued.
		next, nextErr := nextRunFor(schedule, now)
		if nextErr != nil {
			log.Error("failed to compute next run", zap.Error(nextErr))
		}
		if err := l.schedules.SetNextRun(ctx, schedule.ID, next, nil); err != nil {
			log.Error("failed to advance schedule", zap.Error(err))
		}

		if execution == nil {
			log.Info("schedule still running, skipping occurrence")
			continue
		}
		log.Info("scheduled execution started", zap.Int64("execution_id", execution.ID))
		l.coordinator.Start(schedule, execution)
	}
}

func (l *SchedulerLoop) fireCleanups(ctx context.Context, now time.Time) {
	if l.retention == nil {
		return
	}
	policies, err := l.policies.FindAutoCleanup(ctx)
	if err != nil {
		l.logger.Error("failed to load cleanup policies", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	active := make(map[int64]bool, len(policies))
	for _, policy := range policies {
		active[policy.ID] = true
		slot, ok := l.cleanups[policy.ID]
		if !ok || slot.expr != policy.CleanupSchedule {
			next, err := crontab.NextFireTime(policy.CleanupSchedule, l.timezone, now)
			if err != nil {
				l.logger.Error("invalid cleanup schedule", zap.Int64("policy_id", policy.ID), zap.Error(err))
				continue
			}
			running := ok && slot.running
			slot = &cleanupSlot{expr: policy.CleanupSchedule, next: next, running: running}
			l.cleanups[policy.ID] = slot
			continue
		}

		if now.Before(slot.next) || slot.running {
			continue
		}
		if next, err := crontab.NextFireTime(slot.expr, l.timezone, now); err == nil {
			slot.next = next
		}
		slot.running = true
		l.wg.Add(1)
		go l.cleanup(ctx, policy.ID)
	}

	for id, slot := range l.cleanups {
		if !active[id] && !slot.running {
			delete(l.cleanups, id)
		}
	}
}

func (l *SchedulerLoop) cleanup(ctx context.Context, policyID int64) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		if slot, ok := l.cleanups[policyID]; ok {
			slot.running = false
		}
		l.mu.Unlock()
	}()

	report, err := l.retention.RunCleanup(ctx, policyID, false)
	if err != nil {
		l.logger.Error("scheduled cleanup failed", zap.Int64("policy_id", policyID), zap.Error(err))
		return
	}
	if len(report.Failures) > 0 {
		l.logger.Warn("scheduled cleanup left backups behind",
			zap.Int64("policy_id", policyID),
			zap.Int("failures", len(report.Failures)),
		)
	}
}
