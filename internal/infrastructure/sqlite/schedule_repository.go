package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

const scheduleColumns = `id, name, description, cron_expression, timezone, enabled, backup_type, categories,
	max_backup_count, retention_days, retention_policy_id, max_retries, compression_enabled,
	last_run_at, next_run_at, created_by, created_at, updated_at`

type scheduleRow struct {
	ID                 int64         `db:"id"`
	Name               string        `db:"name"`
	Description        string        `db:"description"`
	CronExpression     string        `db:"cron_expression"`
	Timezone           string        `db:"timezone"`
	Enabled            bool          `db:"enabled"`
	BackupType         string        `db:"backup_type"`
	Categories         string        `db:"categories"`
	MaxBackupCount     int           `db:"max_backup_count"`
	RetentionDays      int           `db:"retention_days"`
	RetentionPolicyID  sql.NullInt64 `db:"retention_policy_id"`
	MaxRetries         int           `db:"max_retries"`
	CompressionEnabled bool          `db:"compression_enabled"`
	LastRunAt          sql.NullTime  `db:"last_run_at"`
	NextRunAt          sql.NullTime  `db:"next_run_at"`
	CreatedBy          string        `db:"created_by"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

func (row scheduleRow) toDomain() (*domain.Schedule, error) {
	categories, err := unmarshalStrings(row.Categories)
	if err != nil {
		return nil, err
	}
	return &domain.Schedule{
		ID:                 row.ID,
		Name:               row.Name,
		Description:        row.Description,
		CronExpression:     row.CronExpression,
		Timezone:           row.Timezone,
		Enabled:            row.Enabled,
		BackupType:         domain.BackupType(row.BackupType),
		Categories:         categories,
		MaxBackupCount:     row.MaxBackupCount,
		RetentionDays:      row.RetentionDays,
		RetentionPolicyID:  int64Ptr(row.RetentionPolicyID),
		MaxRetries:         row.MaxRetries,
		CompressionEnabled: row.CompressionEnabled,
		LastRunAt:          timePtr(row.LastRunAt),
		NextRunAt:          timePtr(row.NextRunAt),
		CreatedBy:          row.CreatedBy,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}, nil
}

func schedulesFromRows(rows []scheduleRow) ([]*domain.Schedule, error) {
	schedules := make([]*domain.Schedule, 0, len(rows))
	for _, row := range rows {
		schedule, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

type scheduleRepository struct {
	db *DB
}

func NewScheduleRepository(db *DB) repository.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Create(ctx context.Context, schedule *domain.Schedule) error {
	categories, err := marshalStrings(schedule.Categories)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedule (name, description, cron_expression, timezone, enabled, backup_type, categories,
			max_backup_count, retention_days, retention_policy_id, max_retries, compression_enabled,
			last_run_at, next_run_at, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		schedule.Name,
		schedule.Description,
		schedule.CronExpression,
		schedule.Timezone,
		schedule.Enabled,
		schedule.BackupType,
		categories,
		schedule.MaxBackupCount,
		schedule.RetentionDays,
		NullInt64(schedule.RetentionPolicyID),
		schedule.MaxRetries,
		schedule.CompressionEnabled,
		NullTime(schedule.LastRunAt),
		NullTime(schedule.NextRunAt),
		schedule.CreatedBy,
		schedule.CreatedAt.UTC(),
		schedule.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("schedule %q: %w", schedule.Name, repository.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	schedule.ID = id

	return nil
}

func (r *scheduleRepository) findOne(ctx context.Context, where string, arg interface{}) (*domain.Schedule, error) {
	var row scheduleRow
	err := r.db.GetContext(ctx, &row, `SELECT `+scheduleColumns+` FROM schedule WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule: %w", repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}
	return row.toDomain()
}

func (r *scheduleRepository) FindByID(ctx context.Context, id int64) (*domain.Schedule, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *scheduleRepository) FindByName(ctx context.Context, name string) (*domain.Schedule, error) {
	return r.findOne(ctx, "name = ?", name)
}

// Update writes the schedule definition. next_run_at and last_run_at belong
// to the scheduler and change only through SetNextRun.
func (r *scheduleRepository) Update(ctx context.Context, schedule *domain.Schedule) error {
	categories, err := marshalStrings(schedule.Categories)
	if err != nil {
		return err
	}

	query := `
		UPDATE schedule
		SET name = ?, description = ?, cron_expression = ?, timezone = ?, enabled = ?, backup_type = ?,
			categories = ?, max_backup_count = ?, retention_days = ?, retention_policy_id = ?, max_retries = ?,
			compression_enabled = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		schedule.Name,
		schedule.Description,
		schedule.CronExpression,
		schedule.Timezone,
		schedule.Enabled,
		schedule.BackupType,
		categories,
		schedule.MaxBackupCount,
		schedule.RetentionDays,
		NullInt64(schedule.RetentionPolicyID),
		schedule.MaxRetries,
		schedule.CompressionEnabled,
		schedule.UpdatedAt.UTC(),
		schedule.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("schedule %q: %w", schedule.Name, repository.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("schedule %d: %w", schedule.ID, repository.ErrNotFound)
	}

	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id int64) error {
	query := `
		DELETE FROM schedule
		WHERE id = ?
			AND NOT EXISTS (SELECT 1 FROM execution WHERE schedule_id = ? AND terminal = 0)
	`
	result, err := r.db.ExecContext(ctx, query, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("schedule %d has a running execution: %w", id, repository.ErrInUse)
}

func (r *scheduleRepository) List(ctx context.Context, filter repository.ScheduleFilter) ([]*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedule WHERE 1=1`
	args := []interface{}{}

	query, args = ApplyFilters(query, args, filter.Filters)
	query = ApplyOrdering(query, filter.Order, "id ASC")
	query, args = ApplyPagination(query, args, filter.ListFilter)

	var rows []scheduleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedulesFromRows(rows)
}

func (r *scheduleRepository) Count(ctx context.Context, filter repository.ScheduleFilter) (int, error) {
	query := `SELECT COUNT(*) FROM schedule WHERE 1=1`
	args := []interface{}{}
	query, args = ApplyFilters(query, args, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", err)
	}
	return count, nil
}

func (r *scheduleRepository) FindDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedule
		WHERE enabled = 1 AND next_run_at IS NOT NULL
		ORDER BY next_run_at ASC, id ASC
	`
	var rows []scheduleRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to find due schedules: %w", err)
	}
	candidates, err := schedulesFromRows(rows)
	if err != nil {
		return nil, err
	}

	// Compared as instants rather than stored strings: rows written with a
	// different offset or precision still sort correctly.
	due := make([]*domain.Schedule, 0, len(candidates))
	for _, s := range candidates {
		if s.IsDue(now) {
			due = append(due, s)
		}
	}
	return due, nil
}

func (r *scheduleRepository) FindByPolicy(ctx context.Context, policyID int64) ([]*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedule WHERE retention_policy_id = ? ORDER BY id ASC`
	var rows []scheduleRow
	if err := r.db.SelectContext(ctx, &rows, query, policyID); err != nil {
		return nil, fmt.Errorf("failed to find schedules by policy: %w", err)
	}
	return schedulesFromRows(rows)
}

func (r *scheduleRepository) SetNextRun(ctx context.Context, id int64, next *time.Time, lastRun *time.Time) error {
	query := `
		UPDATE schedule
		SET next_run_at = ?, last_run_at = COALESCE(?, last_run_at)
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, NullTime(next), NullTime(lastRun), id)
	if err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("schedule %d: %w", id, repository.ErrNotFound)
	}
	return nil
}
