package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/crontab"
	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
	"github.com/martijn/snapkeep/internal/core/retention"
)

// CleanupReport describes one retention run. Kept maps every surviving
// backup to the rule that kept it.
type CleanupReport struct {
	PolicyID   *int64            `json:"policy_id,omitempty" yaml:"policy_id,omitempty"`
	ScheduleID *int64            `json:"schedule_id,omitempty" yaml:"schedule_id,omitempty"`
	DryRun     bool              `json:"dry_run" yaml:"dry_run"`
	Deleted    []string          `json:"deleted" yaml:"deleted"`
	Kept       map[string]string `json:"kept" yaml:"kept"`
	Failures   map[string]string `json:"failures" yaml:"failures"`
}

func newCleanupReport(dryRun bool) *CleanupReport {
	return &CleanupReport{
		DryRun:   dryRun,
		Deleted:  []string{},
		Kept:     map[string]string{},
		Failures: map[string]string{},
	}
}

type RetentionService struct {
	policies   repository.RetentionPolicyRepository
	schedules  repository.ScheduleRepository
	backups    repository.BackupRepository
	executions repository.ExecutionRepository
	store      ArtifactStore
	logger     *zap.Logger
	now        func() time.Time
}

func NewRetentionService(
	policies repository.RetentionPolicyRepository,
	schedules repository.ScheduleRepository,
	backups repository.BackupRepository,
	executions repository.ExecutionRepository,
	store ArtifactStore,
	logger *zap.Logger,
) *RetentionService {
	return &RetentionService{
		policies:   policies,
		schedules:  schedules,
		backups:    backups,
		executions: executions,
		store:      store,
		logger:     logger.Named("retention"),
		now:        time.Now,
	}
}

func validatePolicy(p *domain.RetentionPolicy) error {
	if p.Name == "" {
		return validationError("name is required")
	}
	if err := p.CheckBounds(); err != nil {
		return validationError("%v", err)
	}
	if err := crontab.Validate(p.CleanupSchedule); err != nil {
		return validationError("cleanup_schedule: %v", err)
	}
	return nil
}

func (s *RetentionService) CreatePolicy(ctx context.Context, p *domain.RetentionPolicy) error {
	if p.CleanupSchedule == "" {
		p.CleanupSchedule = domain.DefaultCleanupSchedule
	}
	if err := validatePolicy(p); err != nil {
		return err
	}
	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.policies.Create(ctx, p); err != nil {
		return translate(err, fmt.Sprintf("retention policy %q", p.Name))
	}
	return nil
}

func (s *RetentionService) GetPolicy(ctx context.Context, id int64) (*domain.RetentionPolicy, error) {
	p, err := s.policies.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "retention policy")
	}
	return p, nil
}

func (s *RetentionService) GetDefaultPolicy(ctx context.Context) (*domain.RetentionPolicy, error) {
	p, err := s.policies.FindDefault(ctx)
	if err != nil {
		return nil, translate(err, "default retention policy")
	}
	return p, nil
}

func (s *RetentionService) ListPolicies(ctx context.Context) ([]*domain.RetentionPolicy, error) {
	return s.policies.List(ctx)
}

// UpdatePolicy merges patch into the stored policy. Unsetting the default
// flag directly is refused; another policy has to become default instead.
func (s *RetentionService) UpdatePolicy(ctx context.Context, id int64, patch domain.RetentionPolicyPatch) (*domain.RetentionPolicy, error) {
	current, err := s.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsDefault && patch.IsDefault != nil && !*patch.IsDefault {
		return nil, conflictError("the default policy stays default until another policy is made default")
	}

	updated := patch.Apply(*current)
	if err := validatePolicy(&updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now().UTC()
	if err := s.policies.Update(ctx, &updated); err != nil {
		return nil, translate(err, fmt.Sprintf("retention policy %q", updated.Name))
	}
	return &updated, nil
}

func (s *RetentionService) DeletePolicy(ctx context.Context, id int64) error {
	if err := s.policies.Delete(ctx, id); err != nil {
		return translate(err, "retention policy")
	}
	return nil
}

// SetDefaultPolicy makes id the only default policy.
func (s *RetentionService) SetDefaultPolicy(ctx context.Context, id int64) (*domain.RetentionPolicy, error) {
	isDefault := true
	return s.UpdatePolicy(ctx, id, domain.RetentionPolicyPatch{IsDefault: &isDefault})
}

// RunCleanup applies a policy to each schedule attached to it and, for the
// default policy, to backups that no longer belong to a schedule.
func (s *RetentionService) RunCleanup(ctx context.Context, policyID int64, dryRun bool) (*CleanupReport, error) {
	policy, err := s.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}

	report := newCleanupReport(dryRun)
	report.PolicyID = &policy.ID
	log := s.logger.With(zap.Int64("policy_id", policy.ID), zap.Bool("dry_run", dryRun))

	protected, err := s.executions.ProtectedBackupIDs(ctx)
	if err != nil {
		return nil, s.cleanupError(err)
	}
	schedules, err := s.schedules.FindByPolicy(ctx, policy.ID)
	if err != nil {
		return nil, s.cleanupError(err)
	}

	now := s.now()
	for _, schedule := range schedules {
		backups, err := s.backups.FindBySchedule(ctx, schedule.ID)
		if err != nil {
			return report, s.cleanupError(err)
		}
		decision := retention.SelectForDeletion(*policy, backups, now, protected)
		s.apply(ctx, decision, backups, report)
	}

	if policy.IsDefault {
		unattached, err := s.backups.FindUnattached(ctx)
		if err != nil {
			return report, s.cleanupError(err)
		}
		decision := retention.SelectForDeletion(*policy, unattached, now, protected)
		s.apply(ctx, decision, unattached, report)
	}

	log.Info("retention cleanup finished",
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("kept", len(report.Kept)),
		zap.Int("failures", len(report.Failures)),
	)
	return report, nil
}

// ApplyAfterRun prunes one schedule's backups after a successful run: by
// its policy when that policy cleans up automatically, else by the
// schedule's legacy caps. A nil report means nothing was evaluated.
func (s *RetentionService) ApplyAfterRun(ctx context.Context, scheduleID int64) (*CleanupReport, error) {
	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, translate(err, "schedule")
	}

	var policy *domain.RetentionPolicy
	if schedule.RetentionPolicyID != nil {
		policy, err = s.GetPolicy(ctx, *schedule.RetentionPolicyID)
		if err != nil {
			return nil, err
		}
		if !policy.AutoCleanupEnabled {
			return nil, nil
		}
	}

	protected, err := s.executions.ProtectedBackupIDs(ctx)
	if err != nil {
		return nil, s.cleanupError(err)
	}
	backups, err := s.backups.FindBySchedule(ctx, schedule.ID)
	if err != nil {
		return nil, s.cleanupError(err)
	}

	report := newCleanupReport(false)
	report.ScheduleID = &schedule.ID
	var decision retention.Decision
	if policy != nil {
		report.PolicyID = &policy.ID
		decision = retention.SelectForDeletion(*policy, backups, s.now(), protected)
	} else {
		decision = retention.SelectLegacy(schedule.MaxBackupCount, schedule.RetentionDays, backups, s.now(), protected)
	}
	s.apply(ctx, decision, backups, report)
	return report, nil
}

func (s *RetentionService) apply(ctx context.Context, decision retention.Decision, backups []*domain.Backup, report *CleanupReport) {
	for id, reason := range decision.Keep {
		report.Kept[id] = reason
	}

	byID := make(map[string]*domain.Backup, len(backups))
	for _, b := range backups {
		byID[b.ID] = b
	}

	for _, id := range decision.Delete {
		if report.DryRun {
			report.Deleted = append(report.Deleted, id)
			continue
		}
		if err := s.deleteBackup(ctx, byID[id]); err != nil {
			s.logger.Warn("failed to delete backup", zap.String("backup_id", id), zap.Error(err))
			report.Failures[id] = err.Error()
			continue
		}
		report.Deleted = append(report.Deleted, id)
	}
}

// deleteBackup removes the payload first so a failed store delete leaves the
// row in place for the next run.
func (s *RetentionService) deleteBackup(ctx context.Context, b *domain.Backup) error {
	if s.store != nil && b.Location != "" {
		if err := s.store.Delete(ctx, b.Location); err != nil {
			return fmt.Errorf("failed to delete artifact: %w", err)
		}
	}
	if err := s.backups.Delete(ctx, b.ID); err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}

func (s *RetentionService) cleanupError(err error) error {
	return &ServiceError{Kind: KindRetentionCleanup, Message: "retention cleanup failed", Err: err}
}

// discard deletes an artifact that never got a backup row.
func (s *RetentionService) discard(ctx context.Context, location string) error {
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, location)
}
