package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/martijn/snapkeep/internal/core/crontab"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/internal/core/repository"
)

const (
	interruptedMessage = "interrupted"
	storeFailedMessage = "failed to record execution state"

	// closeTimeout bounds the terminal write made after the run's own
	// context or state write is gone.
	closeTimeout = 5 * time.Second
)

// CoordinatorOptions tunes the execution coordinator.
type CoordinatorOptions struct {
	ProducerTimeout time.Duration
	MaxConcurrent   int64
	Retry           RetryPolicy
}

// ExecutionCoordinator owns the lifecycle of an execution: claim, producer
// call, retries, completion and the side effects of a finished run.
type ExecutionCoordinator struct {
	schedules  repository.ScheduleRepository
	executions repository.ExecutionRepository
	producer   ArtifactProducer
	retention  *RetentionService
	notifier   Notifier
	publisher  EventPublisher
	logger     *zap.Logger

	timeout time.Duration
	retry   RetryPolicy
	slots   *semaphore.Weighted
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutionCoordinator(
	schedules repository.ScheduleRepository,
	executions repository.ExecutionRepository,
	producer ArtifactProducer,
	retention *RetentionService,
	notifier Notifier,
	publisher EventPublisher,
	logger *zap.Logger,
	opts CoordinatorOptions,
) *ExecutionCoordinator {
	if opts.ProducerTimeout <= 0 {
		opts.ProducerTimeout = 30 * time.Minute
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Retry.Strategy == "" {
		opts.Retry = DefaultRetryPolicy()
	}

	base, cancel := context.WithCancel(context.Background())
	return &ExecutionCoordinator{
		schedules:  schedules,
		executions: executions,
		producer:   producer,
		retention:  retention,
		notifier:   notifier,
		publisher:  publisher,
		logger:     logger.Named("coordinator"),
		timeout:    opts.ProducerTimeout,
		retry:      opts.Retry,
		slots:      semaphore.NewWeighted(opts.MaxConcurrent),
		now:        time.Now,
		sleep:      sleepContext,
		base:       base,
		cancel:     cancel,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Claim opens a running execution for the schedule. ConflictError when one
// is already open.
func (c *ExecutionCoordinator) Claim(ctx context.Context, schedule *domain.Schedule, kind domain.ExecutionKind, principal string) (*domain.Execution, error) {
	execution := domain.NewExecution(schedule, kind, principal)
	execution.StartedAt = c.now().UTC()
	if err := c.executions.Claim(ctx, execution); err != nil {
		return nil, translate(err, fmt.Sprintf("schedule %q", schedule.Name))
	}
	c.publish(ctx, execution)
	return execution, nil
}

// Start runs a claimed execution in the background. The run is bound to the
// coordinator's lifetime, not to ctx of the caller.
func (c *ExecutionCoordinator) Start(schedule *domain.Schedule, execution *domain.Execution) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(c.base, schedule, execution)
	}()
}

// Go runs fn in the background on the coordinator's context. Shutdown waits
// for it like it waits for executions.
func (c *ExecutionCoordinator) Go(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.base)
	}()
}

// TriggerManual claims and starts a manual run, returning the running
// execution immediately.
func (c *ExecutionCoordinator) TriggerManual(ctx context.Context, schedule *domain.Schedule, principal string) (*domain.Execution, error) {
	execution, err := c.Claim(ctx, schedule, domain.ExecutionKindManual, principal)
	if err != nil {
		return nil, err
	}
	c.logger.Info("manual execution started",
		zap.Int64("schedule_id", schedule.ID),
		zap.Int64("execution_id", execution.ID),
		zap.String("principal", principal),
	)
	snapshot := *execution
	c.Start(schedule, execution)
	return &snapshot, nil
}

// Run drives a claimed execution to a terminal state. Producer failures are
// recorded on the execution and never returned.
func (c *ExecutionCoordinator) Run(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution) {
	log := c.logger.With(zap.Int64("schedule_id", schedule.ID), zap.Int64("execution_id", execution.ID))
	// State writes must land even when ctx is cancelled mid-attempt.
	store := context.WithoutCancel(ctx)

	for {
		result, err := c.produce(ctx, schedule, execution)
		if err == nil {
			c.complete(store, schedule, execution, result, log)
			return
		}

		detail := domain.ExecutionErrorDetail{
			Attempt: execution.RetryCount + 1,
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Cause:   err.Error(),
		}
		if ctx.Err() != nil {
			c.interrupt(execution, detail, log)
			return
		}

		retry := execution.CanRetry()
		execution.Fail(c.now(), err.Error(), detail, !retry)
		if err := c.executions.RecordFailure(store, execution); err != nil {
			c.abandon(store, schedule, execution, err, log)
			return
		}
		c.publish(store, execution)

		if !retry {
			log.Error("execution failed",
				zap.Int("retry_count", execution.RetryCount),
				zap.String("error", err.Error()),
			)
			c.finish(store, schedule, execution, domain.EventFailure, log)
			return
		}

		delay := c.retry.Delay(execution.RetryCount + 1)
		log.Warn("execution attempt failed, retrying",
			zap.Int("attempt", detail.Attempt),
			zap.Duration("delay", delay),
			zap.String("error", err.Error()),
		)
		c.notify(store, schedule, execution, domain.EventRetry, log)

		if err := c.sleep(ctx, delay); err != nil {
			c.interrupt(execution, detail, log)
			return
		}

		if err := c.executions.BeginRetry(store, execution.ID, execution.RetryCount); err != nil {
			c.abandon(store, schedule, execution, err, log)
			return
		}
		execution.RetryCount++
		execution.Status = domain.ExecutionStatusRunning
		execution.FinishedAt = nil
		execution.DurationSeconds = nil
		c.publish(store, execution)
	}
}

func (c *ExecutionCoordinator) produce(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution) (result domain.ArtifactResult, err error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return result, err
	}
	defer c.slots.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panic: %v", r)
		}
	}()

	result, err = c.producer.Produce(callCtx, domain.ArtifactRequest{
		ScheduleID:   schedule.ID,
		ScheduleName: schedule.Name,
		ExecutionID:  execution.ID,
		Kind:         execution.Kind,
		BackupType:   schedule.BackupType,
		Categories:   schedule.Categories,
		Compress:     schedule.CompressionEnabled,
	})
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, fmt.Errorf("producer timed out after %s: %w", c.timeout, context.DeadlineExceeded)
	}
	if err == nil && result.ArtifactID == "" {
		err = errors.New("producer returned an empty artifact id")
	}
	return result, err
}

func (c *ExecutionCoordinator) complete(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution, result domain.ArtifactResult, log *zap.Logger) {
	now := c.now()
	execution.Complete(now, result)
	backup := domain.NewBackup(execution, result, now)

	if err := c.executions.Complete(ctx, execution, backup); err != nil {
		log.Error("failed to store completed execution", zap.String("location", result.Location), zap.Error(err))
		c.discard(ctx, result, log)
		c.closeTerminal(execution, "failed to store backup record", domain.ExecutionErrorDetail{
			Attempt: execution.RetryCount + 1,
			Cause:   err.Error(),
		}, log)
		c.finish(ctx, schedule, execution, domain.EventFailure, log)
		return
	}

	log.Info("execution completed",
		zap.String("backup_id", result.ArtifactID),
		zap.Int64("size_bytes", result.Size),
		zap.Int("item_count", result.ItemCount),
		zap.Int("retry_count", execution.RetryCount),
	)
	c.publish(ctx, execution)

	if c.retention != nil {
		if report, err := c.retention.ApplyAfterRun(ctx, schedule.ID); err != nil {
			log.Error("retention after run failed", zap.Error(err))
		} else if report != nil && len(report.Deleted) > 0 {
			log.Info("retention removed backups", zap.Strings("backup_ids", report.Deleted))
		}
	}

	c.finish(ctx, schedule, execution, domain.EventSuccess, log)
}

// discard removes an artifact that has no backup record to account for it.
func (c *ExecutionCoordinator) discard(ctx context.Context, result domain.ArtifactResult, log *zap.Logger) {
	if c.retention == nil || result.Location == "" {
		return
	}
	if err := c.retention.discard(ctx, result.Location); err != nil {
		log.Error("failed to remove orphaned artifact", zap.String("location", result.Location), zap.Error(err))
		return
	}
	log.Warn("removed orphaned artifact", zap.String("location", result.Location))
}

// finish advances the schedule past a terminal execution and notifies.
func (c *ExecutionCoordinator) finish(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution, event domain.NotificationEvent, log *zap.Logger) {
	c.advance(ctx, schedule.ID, execution.StartedAt, log)
	c.notify(ctx, schedule, execution, event, log)
}

// advance recomputes next_run_at from the current schedule row, which may
// have changed while the execution ran.
func (c *ExecutionCoordinator) advance(ctx context.Context, scheduleID int64, lastRun time.Time, log *zap.Logger) {
	current, err := c.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		log.Warn("failed to reload schedule", zap.Error(err))
		return
	}

	next, err := nextRunFor(current, c.now())
	if err != nil {
		log.Error("failed to compute next run", zap.Error(err))
	}
	if err := c.schedules.SetNextRun(ctx, scheduleID, next, &lastRun); err != nil {
		log.Error("failed to store next run", zap.Error(err))
	}
}

// nextRunFor returns the next fire time of an enabled schedule, or nil when
// it is disabled.
func nextRunFor(schedule *domain.Schedule, now time.Time) (*time.Time, error) {
	if !schedule.Enabled {
		return nil, nil
	}
	next, err := crontab.NextFireTime(schedule.CronExpression, schedule.Timezone, now)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (c *ExecutionCoordinator) notify(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution, event domain.NotificationEvent, log *zap.Logger) {
	if c.notifier == nil {
		return
	}
	msg := notify.BuildMessage(event, schedule, execution, c.now())
	report, err := c.notifier.Dispatch(ctx, schedule, execution, event, msg)
	if err != nil {
		log.Error("notification dispatch failed", zap.String("event", string(event)), zap.Error(err))
		return
	}
	if report.Failed > 0 {
		log.Warn("notification delivery failed",
			zap.String("event", string(event)),
			zap.Int("failed", report.Failed),
			zap.Int("sent", report.Sent),
		)
	}
}

func (c *ExecutionCoordinator) publish(ctx context.Context, execution *domain.Execution) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishExecution(ctx, execution); err != nil {
		c.logger.Warn("failed to publish execution event", zap.Int64("execution_id", execution.ID), zap.Error(err))
	}
}

// interrupt closes an execution whose run was cancelled.
func (c *ExecutionCoordinator) interrupt(execution *domain.Execution, detail domain.ExecutionErrorDetail, log *zap.Logger) {
	if c.closeTerminal(execution, interruptedMessage, detail, log) {
		log.Warn("execution interrupted")
	}
}

// abandon ends a run whose state write failed. A stale write means another
// actor owns the execution now; anything else closes it so the schedule's
// slot is released.
func (c *ExecutionCoordinator) abandon(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution, cause error, log *zap.Logger) {
	if errors.Is(cause, repository.ErrStale) {
		log.Warn("execution changed underneath the run", zap.Error(cause))
		return
	}
	log.Error(storeFailedMessage, zap.Error(cause))
	c.closeTerminal(execution, storeFailedMessage, domain.ExecutionErrorDetail{
		Attempt: execution.RetryCount + 1,
		Cause:   cause.Error(),
	}, log)
	c.finish(ctx, schedule, execution, domain.EventFailure, log)
}

// closeTerminal records a terminal failure on a fresh context.
func (c *ExecutionCoordinator) closeTerminal(execution *domain.Execution, message string, detail domain.ExecutionErrorDetail, log *zap.Logger) bool {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	execution.Fail(c.now(), message, detail, true)
	if err := c.executions.RecordFailure(ctx, execution); err != nil {
		log.Error("failed to close execution", zap.String("reason", message), zap.Error(err))
		return false
	}
	c.publish(ctx, execution)
	return true
}

// RecoverInterrupted closes executions left open by a previous process.
func (c *ExecutionCoordinator) RecoverInterrupted(ctx context.Context) (int, error) {
	open, err := c.executions.FindOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find open executions: %w", err)
	}

	closed := 0
	for _, execution := range open {
		execution.Fail(c.now(), interruptedMessage, domain.ExecutionErrorDetail{
			Attempt: execution.RetryCount + 1,
			Cause:   "process exited while the execution was open",
		}, true)
		if err := c.executions.RecordFailure(ctx, execution); err != nil {
			if errors.Is(err, repository.ErrStale) {
				continue
			}
			return closed, fmt.Errorf("failed to close execution %d: %w", execution.ID, err)
		}
		closed++
	}
	if closed > 0 {
		c.logger.Warn("closed executions left open by a previous run", zap.Int("count", closed))
	}
	return closed, nil
}

// Shutdown cancels running executions and waits for them to record their
// final state, or until ctx is done.
func (c *ExecutionCoordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started execution has finished.
func (c *ExecutionCoordinator) Wait() {
	c.wg.Wait()
}
