package service

import (
	"context"
	"fmt"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

type BackupService struct {
	backupRepo    repository.BackupRepository
	executionRepo repository.ExecutionRepository
	store         ArtifactStore
}

func NewBackupService(
	backupRepo repository.BackupRepository,
	executionRepo repository.ExecutionRepository,
	store ArtifactStore,
) *BackupService {
	return &BackupService{
		backupRepo:    backupRepo,
		executionRepo: executionRepo,
		store:         store,
	}
}

// GetBackup retrieves a backup by ID
func (s *BackupService) GetBackup(ctx context.Context, id string) (*domain.Backup, error) {
	backup, err := s.backupRepo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "backup")
	}
	return backup, nil
}

// ListBackups lists backups with filtering
func (s *BackupService) ListBackups(ctx context.Context, filter repository.BackupFilter) ([]*domain.Backup, error) {
	return s.backupRepo.List(ctx, filter)
}

// CountBackups counts backups with filtering
func (s *BackupService) CountBackups(ctx context.Context, filter repository.BackupFilter) (int, error) {
	return s.backupRepo.Count(ctx, filter)
}

// DeleteBackup removes a backup's payload and its record. Backups referenced
// by an open execution are refused.
func (s *BackupService) DeleteBackup(ctx context.Context, id string) error {
	backup, err := s.GetBackup(ctx, id)
	if err != nil {
		return err
	}

	protected, err := s.executionRepo.ProtectedBackupIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to check open executions: %w", err)
	}
	if protected[id] {
		return conflictError("backup %s is referenced by a running execution", id)
	}

	if s.store != nil && backup.Location != "" {
		if err := s.store.Delete(ctx, backup.Location); err != nil {
			return fmt.Errorf("failed to delete artifact: %w", err)
		}
	}
	if err := s.backupRepo.Delete(ctx, id); err != nil {
		return translate(err, "backup")
	}
	return nil
}
