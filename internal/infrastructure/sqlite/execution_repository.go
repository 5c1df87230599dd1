package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

const executionColumns = `id, schedule_id, kind, status, terminal, retry_count, max_retries, started_at,
	finished_at, duration_seconds, backup_id, size_bytes, item_count, error_message, error_detail,
	triggered_by, metadata`

type executionRow struct {
	ID              int64           `db:"id"`
	ScheduleID      int64           `db:"schedule_id"`
	Kind            string          `db:"kind"`
	Status          string          `db:"status"`
	Terminal        bool            `db:"terminal"`
	RetryCount      int             `db:"retry_count"`
	MaxRetries      int             `db:"max_retries"`
	StartedAt       time.Time       `db:"started_at"`
	FinishedAt      sql.NullTime    `db:"finished_at"`
	DurationSeconds sql.NullFloat64 `db:"duration_seconds"`
	BackupID        sql.NullString  `db:"backup_id"`
	SizeBytes       sql.NullInt64   `db:"size_bytes"`
	ItemCount       sql.NullInt64   `db:"item_count"`
	ErrorMessage    sql.NullString  `db:"error_message"`
	ErrorDetail     sql.NullString  `db:"error_detail"`
	TriggeredBy     string          `db:"triggered_by"`
	Metadata        string          `db:"metadata"`
}

func (row executionRow) toDomain() (*domain.Execution, error) {
	e := &domain.Execution{
		ID:              row.ID,
		ScheduleID:      row.ScheduleID,
		Kind:            domain.ExecutionKind(row.Kind),
		Status:          domain.ExecutionStatus(row.Status),
		Terminal:        row.Terminal,
		RetryCount:      row.RetryCount,
		MaxRetries:      row.MaxRetries,
		StartedAt:       row.StartedAt.UTC(),
		FinishedAt:      timePtr(row.FinishedAt),
		DurationSeconds: floatPtr(row.DurationSeconds),
		BackupID:        stringPtr(row.BackupID),
		SizeBytes:       int64Ptr(row.SizeBytes),
		ItemCount:       intPtr(row.ItemCount),
		ErrorMessage:    stringPtr(row.ErrorMessage),
		TriggeredBy:     row.TriggeredBy,
	}
	if row.ErrorDetail.Valid && row.ErrorDetail.String != "" {
		var detail domain.ExecutionErrorDetail
		if err := json.Unmarshal([]byte(row.ErrorDetail.String), &detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error detail: %w", err)
		}
		e.ErrorDetail = &detail
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return e, nil
}

func executionsFromRows(rows []executionRow) ([]*domain.Execution, error) {
	executions := make([]*domain.Execution, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}

func marshalErrorDetail(detail *domain.ExecutionErrorDetail) (sql.NullString, error) {
	if detail == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal error detail: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

type executionRepository struct {
	db *DB
}

func NewExecutionRepository(db *DB) repository.ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) Claim(ctx context.Context, execution *domain.Execution) error {
	metadata, err := json.Marshal(execution.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO execution (schedule_id, kind, status, terminal, retry_count, max_retries, started_at,
			triggered_by, metadata)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		execution.ScheduleID,
		execution.Kind,
		domain.ExecutionStatusRunning,
		execution.RetryCount,
		execution.MaxRetries,
		execution.StartedAt.UTC(),
		execution.TriggeredBy,
		string(metadata),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("schedule %d: %w", execution.ScheduleID, repository.ErrAlreadyRunning)
	}
	if err != nil {
		return fmt.Errorf("failed to claim execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	execution.ID = id
	execution.Status = domain.ExecutionStatusRunning
	execution.Terminal = false
	return nil
}

func (r *executionRepository) FindByID(ctx context.Context, id int64) (*domain.Execution, error) {
	var row executionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+executionColumns+` FROM execution WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %d: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find execution: %w", err)
	}
	return row.toDomain()
}

func (r *executionRepository) filtered(query string, filter repository.ExecutionFilter) (string, []interface{}) {
	args := []interface{}{}
	if filter.ScheduleID != nil {
		query += " AND schedule_id = ?"
		args = append(args, *filter.ScheduleID)
	}
	return ApplyFilters(query, args, filter.Filters)
}

func (r *executionRepository) List(ctx context.Context, filter repository.ExecutionFilter) ([]*domain.Execution, error) {
	query, args := r.filtered(`SELECT `+executionColumns+` FROM execution WHERE 1=1`, filter)
	query = ApplyOrdering(query, filter.Order, "started_at DESC, id DESC")
	query, args = ApplyPagination(query, args, filter.ListFilter)

	var rows []executionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return executionsFromRows(rows)
}

func (r *executionRepository) Count(ctx context.Context, filter repository.ExecutionFilter) (int, error) {
	query, args := r.filtered(`SELECT COUNT(*) FROM execution WHERE 1=1`, filter)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

func (r *executionRepository) Recent(ctx context.Context, scheduleID int64, limit int) ([]*domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM execution
		WHERE schedule_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`
	var rows []executionRow
	if err := r.db.SelectContext(ctx, &rows, query, scheduleID, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}
	return executionsFromRows(rows)
}

func (r *executionRepository) Stats(ctx context.Context, scheduleID int64, since time.Time) (repository.ExecutionStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS successful,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(AVG(CASE WHEN status = 'completed' THEN duration_seconds END), 0) AS avg_duration
		FROM execution
		WHERE schedule_id = ? AND terminal = 1 AND started_at >= ?
	`
	var stats repository.ExecutionStats
	if err := r.db.GetContext(ctx, &stats, query, scheduleID, since.UTC()); err != nil {
		return stats, fmt.Errorf("failed to compute execution stats: %w", err)
	}
	return stats, nil
}

func (r *executionRepository) FindOpen(ctx context.Context) ([]*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM execution WHERE terminal = 0 ORDER BY id ASC`
	var rows []executionRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to find open executions: %w", err)
	}
	return executionsFromRows(rows)
}

func (r *executionRepository) RecordFailure(ctx context.Context, execution *domain.Execution) error {
	detail, err := marshalErrorDetail(execution.ErrorDetail)
	if err != nil {
		return err
	}

	query := `
		UPDATE execution
		SET status = ?, terminal = ?, finished_at = ?, duration_seconds = ?, error_message = ?, error_detail = ?
		WHERE id = ? AND terminal = 0
	`
	result, err := r.db.ExecContext(ctx, query,
		domain.ExecutionStatusFailed,
		execution.Terminal,
		NullTime(execution.FinishedAt),
		NullFloat(execution.DurationSeconds),
		NullString(execution.ErrorMessage),
		detail,
		execution.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution failure: %w", err)
	}
	return expectOne(result, "execution", execution.ID)
}

func (r *executionRepository) BeginRetry(ctx context.Context, id int64, expectedRetryCount int) error {
	query := `
		UPDATE execution
		SET status = ?, retry_count = retry_count + 1, finished_at = NULL, duration_seconds = NULL
		WHERE id = ? AND status = ? AND terminal = 0 AND retry_count = ? AND retry_count < max_retries
	`
	result, err := r.db.ExecContext(ctx, query,
		domain.ExecutionStatusRunning,
		id,
		domain.ExecutionStatusFailed,
		expectedRetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to begin retry: %w", err)
	}
	return expectOne(result, "execution", id)
}

func (r *executionRepository) Complete(ctx context.Context, execution *domain.Execution, backup *domain.Backup) error {
	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertBackup(ctx, tx, backup); err != nil {
			return err
		}

		query := `
			UPDATE execution
			SET status = ?, terminal = 1, finished_at = ?, duration_seconds = ?, backup_id = ?, size_bytes = ?,
				item_count = ?, error_message = NULL, error_detail = NULL
			WHERE id = ? AND status = ? AND terminal = 0
		`
		result, err := tx.ExecContext(ctx, query,
			domain.ExecutionStatusCompleted,
			NullTime(execution.FinishedAt),
			NullFloat(execution.DurationSeconds),
			NullString(execution.BackupID),
			NullInt64(execution.SizeBytes),
			NullInt(execution.ItemCount),
			execution.ID,
			domain.ExecutionStatusRunning,
		)
		if err != nil {
			return fmt.Errorf("failed to complete execution: %w", err)
		}
		return expectOne(result, "execution", execution.ID)
	})
}

func (r *executionRepository) ProtectedBackupIDs(ctx context.Context) (map[string]bool, error) {
	var ids []string
	query := `SELECT backup_id FROM execution WHERE terminal = 0 AND backup_id IS NOT NULL`
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to find protected backups: %w", err)
	}
	protected := make(map[string]bool, len(ids))
	for _, id := range ids {
		protected[id] = true
	}
	return protected, nil
}

// expectOne maps a compare-and-swap update that matched nothing to ErrStale.
func expectOne(result sql.Result, what string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %d: %w", what, id, repository.ErrStale)
	}
	return nil
}
