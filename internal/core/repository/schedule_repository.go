package repository

import (
	"context"
	"time"

	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/domain"
)

// ScheduleFilter embeds ListFilter for generic query/order/pagination
type ScheduleFilter struct {
	util.ListFilter
}

type ScheduleRepository interface {
	Create(ctx context.Context, schedule *domain.Schedule) error
	FindByID(ctx context.Context, id int64) (*domain.Schedule, error)
	FindByName(ctx context.Context, name string) (*domain.Schedule, error)
	// Update writes everything except next_run_at and last_run_at.
	Update(ctx context.Context, schedule *domain.Schedule) error
	// Delete removes the schedule unless it has a non-terminal execution,
	// in which case ErrInUse is returned.
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter ScheduleFilter) ([]*domain.Schedule, error)
	Count(ctx context.Context, filter ScheduleFilter) (int, error)

	// FindDue returns enabled schedules whose next_run_at is at or before now.
	FindDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error)
	FindByPolicy(ctx context.Context, policyID int64) ([]*domain.Schedule, error)
	// SetNextRun updates next_run_at (and last_run_at when given) without
	// touching the rest of the row.
	SetNextRun(ctx context.Context, id int64, next *time.Time, lastRun *time.Time) error
}
