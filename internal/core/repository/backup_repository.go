package repository

import (
	"context"

	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/domain"
)

// BackupFilter embeds ListFilter for generic query/order/pagination
type BackupFilter struct {
	util.ListFilter
}

type BackupRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Backup, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter BackupFilter) ([]*domain.Backup, error)
	Count(ctx context.Context, filter BackupFilter) (int, error)

	// FindBySchedule returns a schedule's backups, newest first.
	FindBySchedule(ctx context.Context, scheduleID int64) ([]*domain.Backup, error)
	// FindUnattached returns backups without a schedule, newest first.
	FindUnattached(ctx context.Context) ([]*domain.Backup, error)
}
