package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

const policyColumns = `id, name, description, is_default, daily_days, weekly_weeks, monthly_months, yearly_years,
	max_daily_backups, max_weekly_backups, max_monthly_backups, max_yearly_backups, max_total_backups,
	max_total_size_bytes, auto_cleanup_enabled, cleanup_schedule, created_by, created_at, updated_at`

const policyInsertColumns = `name, description, is_default, daily_days, weekly_weeks, monthly_months, yearly_years,
	max_daily_backups, max_weekly_backups, max_monthly_backups, max_yearly_backups, max_total_backups,
	max_total_size_bytes, auto_cleanup_enabled, cleanup_schedule, created_by, created_at, updated_at`

const policyInsertPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func policyInsertArgs(p *domain.RetentionPolicy) []interface{} {
	return []interface{}{
		p.Name, p.Description, p.IsDefault,
		p.DailyDays, p.WeeklyWeeks, p.MonthlyMonths, p.YearlyYears,
		p.MaxDailyBackups, p.MaxWeeklyBackups, p.MaxMonthlyBackups, p.MaxYearlyBackups, p.MaxTotalBackups,
		NullInt64(p.MaxTotalSizeBytes), p.AutoCleanupEnabled, p.CleanupSchedule, p.CreatedBy,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	}
}

type policyRow struct {
	ID                 int64         `db:"id"`
	Name               string        `db:"name"`
	Description        string        `db:"description"`
	IsDefault          bool          `db:"is_default"`
	DailyDays          int           `db:"daily_days"`
	WeeklyWeeks        int           `db:"weekly_weeks"`
	MonthlyMonths      int           `db:"monthly_months"`
	YearlyYears        int           `db:"yearly_years"`
	MaxDailyBackups    int           `db:"max_daily_backups"`
	MaxWeeklyBackups   int           `db:"max_weekly_backups"`
	MaxMonthlyBackups  int           `db:"max_monthly_backups"`
	MaxYearlyBackups   int           `db:"max_yearly_backups"`
	MaxTotalBackups    int           `db:"max_total_backups"`
	MaxTotalSizeBytes  sql.NullInt64 `db:"max_total_size_bytes"`
	AutoCleanupEnabled bool          `db:"auto_cleanup_enabled"`
	CleanupSchedule    string        `db:"cleanup_schedule"`
	CreatedBy          string        `db:"created_by"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

func (row policyRow) toDomain() *domain.RetentionPolicy {
	return &domain.RetentionPolicy{
		ID:                 row.ID,
		Name:               row.Name,
		Description:        row.Description,
		IsDefault:          row.IsDefault,
		DailyDays:          row.DailyDays,
		WeeklyWeeks:        row.WeeklyWeeks,
		MonthlyMonths:      row.MonthlyMonths,
		YearlyYears:        row.YearlyYears,
		MaxDailyBackups:    row.MaxDailyBackups,
		MaxWeeklyBackups:   row.MaxWeeklyBackups,
		MaxMonthlyBackups:  row.MaxMonthlyBackups,
		MaxYearlyBackups:   row.MaxYearlyBackups,
		MaxTotalBackups:    row.MaxTotalBackups,
		MaxTotalSizeBytes:  int64Ptr(row.MaxTotalSizeBytes),
		AutoCleanupEnabled: row.AutoCleanupEnabled,
		CleanupSchedule:    row.CleanupSchedule,
		CreatedBy:          row.CreatedBy,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}
}

type retentionPolicyRepository struct {
	db *DB
}

func NewRetentionPolicyRepository(db *DB) repository.RetentionPolicyRepository {
	return &retentionPolicyRepository{db: db}
}

// clearDefault drops the default flag from every policy except keepID.
func clearDefault(ctx context.Context, tx *sqlx.Tx, keepID int64, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE retention_policy SET is_default = 0, updated_at = ? WHERE is_default = 1 AND id != ?`,
		now.UTC(), keepID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear default policy: %w", err)
	}
	return nil
}

func (r *retentionPolicyRepository) Create(ctx context.Context, p *domain.RetentionPolicy) error {
	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if p.IsDefault {
			if err := clearDefault(ctx, tx, 0, p.UpdatedAt); err != nil {
				return err
			}
		}

		query := `INSERT INTO retention_policy (` + policyInsertColumns + `) VALUES (` + policyInsertPlaceholders + `)`
		result, err := tx.ExecContext(ctx, query, policyInsertArgs(p)...)
		if isUniqueViolation(err) {
			return fmt.Errorf("retention policy %q: %w", p.Name, repository.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("failed to create retention policy: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		p.ID = id
		return nil
	})
}

func (r *retentionPolicyRepository) findOne(ctx context.Context, where string, arg interface{}) (*domain.RetentionPolicy, error) {
	var row policyRow
	err := r.db.GetContext(ctx, &row, `SELECT `+policyColumns+` FROM retention_policy WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("retention policy: %w", repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find retention policy: %w", err)
	}
	return row.toDomain(), nil
}

func (r *retentionPolicyRepository) FindByID(ctx context.Context, id int64) (*domain.RetentionPolicy, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *retentionPolicyRepository) FindByName(ctx context.Context, name string) (*domain.RetentionPolicy, error) {
	return r.findOne(ctx, "name = ?", name)
}

func (r *retentionPolicyRepository) FindDefault(ctx context.Context) (*domain.RetentionPolicy, error) {
	return r.findOne(ctx, "is_default = ?", true)
}

func (r *retentionPolicyRepository) Update(ctx context.Context, p *domain.RetentionPolicy) error {
	return r.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if p.IsDefault {
			if err := clearDefault(ctx, tx, p.ID, p.UpdatedAt); err != nil {
				return err
			}
		}

		query := `
			UPDATE retention_policy
			SET name = ?, description = ?, is_default = ?, daily_days = ?, weekly_weeks = ?, monthly_months = ?,
				yearly_years = ?, max_daily_backups = ?, max_weekly_backups = ?, max_monthly_backups = ?,
				max_yearly_backups = ?, max_total_backups = ?, max_total_size_bytes = ?, auto_cleanup_enabled = ?,
				cleanup_schedule = ?, updated_at = ?
			WHERE id = ?
		`
		result, err := tx.ExecContext(ctx, query,
			p.Name, p.Description, p.IsDefault, p.DailyDays, p.WeeklyWeeks, p.MonthlyMonths,
			p.YearlyYears, p.MaxDailyBackups, p.MaxWeeklyBackups, p.MaxMonthlyBackups,
			p.MaxYearlyBackups, p.MaxTotalBackups, NullInt64(p.MaxTotalSizeBytes), p.AutoCleanupEnabled,
			p.CleanupSchedule, p.UpdatedAt.UTC(),
			p.ID,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("retention policy %q: %w", p.Name, repository.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("failed to update retention policy: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("retention policy %d: %w", p.ID, repository.ErrNotFound)
		}
		return nil
	})
}

func (r *retentionPolicyRepository) Delete(ctx context.Context, id int64) error {
	query := `
		DELETE FROM retention_policy
		WHERE id = ? AND is_default = 0
			AND NOT EXISTS (SELECT 1 FROM schedule WHERE retention_policy_id = ?)
	`
	result, err := r.db.ExecContext(ctx, query, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete retention policy: %w", err)
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
	return fmt.Errorf("retention policy %d: %w", id, repository.ErrInUse)
}

func (r *retentionPolicyRepository) List(ctx context.Context) ([]*domain.RetentionPolicy, error) {
	return r.selectPolicies(ctx, `SELECT `+policyColumns+` FROM retention_policy ORDER BY is_default DESC, name ASC`)
}

func (r *retentionPolicyRepository) FindAutoCleanup(ctx context.Context) ([]*domain.RetentionPolicy, error) {
	return r.selectPolicies(ctx, `SELECT `+policyColumns+` FROM retention_policy WHERE auto_cleanup_enabled = 1 ORDER BY id`)
}

func (r *retentionPolicyRepository) selectPolicies(ctx context.Context, query string, args ...interface{}) ([]*domain.RetentionPolicy, error) {
	var rows []policyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list retention policies: %w", err)
	}
	policies := make([]*domain.RetentionPolicy, 0, len(rows))
	for _, row := range rows {
		policies = append(policies, row.toDomain())
	}
	return policies, nil
}
