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

const backupColumns = `id, schedule_id, execution_id, created_at, size_bytes, item_count, tags, category, location`

type backupRow struct {
	ID          string        `db:"id"`
	ScheduleID  sql.NullInt64 `db:"schedule_id"`
	ExecutionID sql.NullInt64 `db:"execution_id"`
	CreatedAt   time.Time     `db:"created_at"`
	SizeBytes   int64         `db:"size_bytes"`
	ItemCount   int           `db:"item_count"`
	Tags        string        `db:"tags"`
	Category    string        `db:"category"`
	Location    string        `db:"location"`
}

func (row backupRow) toDomain() (*domain.Backup, error) {
	tags, err := unmarshalStrings(row.Tags)
	if err != nil {
		return nil, err
	}
	return &domain.Backup{
		ID:          row.ID,
		ScheduleID:  int64Ptr(row.ScheduleID),
		ExecutionID: int64Ptr(row.ExecutionID),
		CreatedAt:   row.CreatedAt.UTC(),
		SizeBytes:   row.SizeBytes,
		ItemCount:   row.ItemCount,
		Tags:        tags,
		Category:    row.Category,
		Location:    row.Location,
	}, nil
}

func backupsFromRows(rows []backupRow) ([]*domain.Backup, error) {
	backups := make([]*domain.Backup, 0, len(rows))
	for _, row := range rows {
		b, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	return backups, nil
}

// insertBackup is only called from the execution completion transaction;
// backups never exist without the execution that produced them.
func insertBackup(ctx context.Context, tx *sqlx.Tx, backup *domain.Backup) error {
	tags, err := marshalStrings(backup.Tags)
	if err != nil {
		return err
	}

	query := `INSERT INTO backup (` + backupColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		backup.ID,
		NullInt64(backup.ScheduleID),
		NullInt64(backup.ExecutionID),
		backup.CreatedAt.UTC(),
		backup.SizeBytes,
		backup.ItemCount,
		tags,
		backup.Category,
		backup.Location,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("backup %s: %w", backup.ID, repository.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	return nil
}

type backupRepository struct {
	db *DB
}

func NewBackupRepository(db *DB) repository.BackupRepository {
	return &backupRepository{db: db}
}

func (r *backupRepository) FindByID(ctx context.Context, id string) (*domain.Backup, error) {
	var row backupRow
	err := r.db.GetContext(ctx, &row, `SELECT `+backupColumns+` FROM backup WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find backup: %w", err)
	}
	return row.toDomain()
}

func (r *backupRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM backup WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("backup %s: %w", id, repository.ErrNotFound)
	}
	return nil
}

func (r *backupRepository) List(ctx context.Context, filter repository.BackupFilter) ([]*domain.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backup WHERE 1=1`
	args := []interface{}{}

	query, args = ApplyFilters(query, args, filter.Filters)
	query = ApplyOrdering(query, filter.Order, "created_at DESC")
	query, args = ApplyPagination(query, args, filter.ListFilter)

	var rows []backupRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	return backupsFromRows(rows)
}

func (r *backupRepository) Count(ctx context.Context, filter repository.BackupFilter) (int, error) {
	query := `SELECT COUNT(*) FROM backup WHERE 1=1`
	args := []interface{}{}
	query, args = ApplyFilters(query, args, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count backups: %w", err)
	}
	return count, nil
}

func (r *backupRepository) FindBySchedule(ctx context.Context, scheduleID int64) ([]*domain.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backup WHERE schedule_id = ? ORDER BY created_at DESC, id DESC`
	var rows []backupRow
	if err := r.db.SelectContext(ctx, &rows, query, scheduleID); err != nil {
		return nil, fmt.Errorf("failed to find backups by schedule: %w", err)
	}
	return backupsFromRows(rows)
}

func (r *backupRepository) FindUnattached(ctx context.Context) ([]*domain.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backup WHERE schedule_id IS NULL ORDER BY created_at DESC, id DESC`
	var rows []backupRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to find unattached backups: %w", err)
	}
	return backupsFromRows(rows)
}
