package repository

import (
	"context"
	"time"

	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/domain"
)

// ExecutionFilter embeds ListFilter for generic query/order/pagination
type ExecutionFilter struct {
	util.ListFilter
	ScheduleID *int64
}

// ExecutionStats aggregates terminal executions of one schedule.
type ExecutionStats struct {
	Total              int     `db:"total"`
	Successful         int     `db:"successful"`
	Failed             int     `db:"failed"`
	AvgDurationSeconds float64 `db:"avg_duration"`
}

type ExecutionRepository interface {
	// Claim inserts a running execution, failing with ErrAlreadyRunning when
	// the schedule already has a non-terminal one. Check and insert are a
	// single statement.
	Claim(ctx context.Context, execution *domain.Execution) error
	FindByID(ctx context.Context, id int64) (*domain.Execution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]*domain.Execution, error)
	Count(ctx context.Context, filter ExecutionFilter) (int, error)
	Recent(ctx context.Context, scheduleID int64, limit int) ([]*domain.Execution, error)
	Stats(ctx context.Context, scheduleID int64, since time.Time) (ExecutionStats, error)
	FindOpen(ctx context.Context) ([]*domain.Execution, error)

	// RecordFailure stores a failed attempt. Terminal or not is carried on
	// the execution.
	RecordFailure(ctx context.Context, execution *domain.Execution) error
	// BeginRetry moves a non-terminal failed execution back to running and
	// increments retry_count, provided retry_count still equals expected.
	BeginRetry(ctx context.Context, id int64, expectedRetryCount int) error
	// Complete marks the execution completed and inserts its backup row in
	// one transaction.
	Complete(ctx context.Context, execution *domain.Execution, backup *domain.Backup) error

	// ProtectedBackupIDs returns backup ids referenced by open executions.
	ProtectedBackupIDs(ctx context.Context) (map[string]bool, error)
}
