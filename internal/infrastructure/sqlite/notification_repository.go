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

const notificationConfigColumns = `id, schedule_id, kind, enabled, on_success, on_failure, on_retry,
	on_schedule_disabled, recipients, webhook_url, template, max_per_hour, silence_minutes, created_at, updated_at`

const notificationLogColumns = `id, config_id, schedule_id, execution_id, event, outcome, error_detail, created_at`

type notificationConfigRow struct {
	ID                 int64     `db:"id"`
	ScheduleID         int64     `db:"schedule_id"`
	Kind               string    `db:"kind"`
	Enabled            bool      `db:"enabled"`
	OnSuccess          bool      `db:"on_success"`
	OnFailure          bool      `db:"on_failure"`
	OnRetry            bool      `db:"on_retry"`
	OnScheduleDisabled bool      `db:"on_schedule_disabled"`
	Recipients         string    `db:"recipients"`
	WebhookURL         string    `db:"webhook_url"`
	Template           string    `db:"template"`
	MaxPerHour         int       `db:"max_per_hour"`
	SilenceMinutes     int       `db:"silence_minutes"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (row notificationConfigRow) toDomain() (*domain.NotificationConfig, error) {
	recipients, err := unmarshalStrings(row.Recipients)
	if err != nil {
		return nil, err
	}
	return &domain.NotificationConfig{
		ID:                 row.ID,
		ScheduleID:         row.ScheduleID,
		Kind:               domain.ChannelKind(row.Kind),
		Enabled:            row.Enabled,
		OnSuccess:          row.OnSuccess,
		OnFailure:          row.OnFailure,
		OnRetry:            row.OnRetry,
		OnScheduleDisabled: row.OnScheduleDisabled,
		Recipients:         recipients,
		WebhookURL:         row.WebhookURL,
		Template:           row.Template,
		MaxPerHour:         row.MaxPerHour,
		SilenceMinutes:     row.SilenceMinutes,
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
	}, nil
}

type notificationLogRow struct {
	ID          int64          `db:"id"`
	ConfigID    int64          `db:"config_id"`
	ScheduleID  int64          `db:"schedule_id"`
	ExecutionID sql.NullInt64  `db:"execution_id"`
	Event       string         `db:"event"`
	Outcome     string         `db:"outcome"`
	ErrorDetail sql.NullString `db:"error_detail"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (row notificationLogRow) toDomain() *domain.NotificationLog {
	return &domain.NotificationLog{
		ID:          row.ID,
		ConfigID:    row.ConfigID,
		ScheduleID:  row.ScheduleID,
		ExecutionID: int64Ptr(row.ExecutionID),
		Event:       domain.NotificationEvent(row.Event),
		Outcome:     domain.NotificationOutcome(row.Outcome),
		ErrorDetail: stringPtr(row.ErrorDetail),
		CreatedAt:   row.CreatedAt.UTC(),
	}
}

func logsFromRows(rows []notificationLogRow) []*domain.NotificationLog {
	logs := make([]*domain.NotificationLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, row.toDomain())
	}
	return logs
}

type notificationRepository struct {
	db *DB
}

func NewNotificationRepository(db *DB) repository.NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateConfig(ctx context.Context, cfg *domain.NotificationConfig) error {
	recipients, err := marshalStrings(cfg.Recipients)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_config (schedule_id, kind, enabled, on_success, on_failure, on_retry,
			on_schedule_disabled, recipients, webhook_url, template, max_per_hour, silence_minutes,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		cfg.ScheduleID, cfg.Kind, cfg.Enabled, cfg.OnSuccess, cfg.OnFailure, cfg.OnRetry,
		cfg.OnScheduleDisabled, recipients, cfg.WebhookURL, cfg.Template, cfg.MaxPerHour, cfg.SilenceMinutes,
		cfg.CreatedAt.UTC(), cfg.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification config: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	cfg.ID = id
	return nil
}

func (r *notificationRepository) FindConfigByID(ctx context.Context, id int64) (*domain.NotificationConfig, error) {
	var row notificationConfigRow
	query := `SELECT ` + notificationConfigColumns + ` FROM notification_config WHERE id = ?`
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification config %d: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find notification config: %w", err)
	}
	return row.toDomain()
}

func (r *notificationRepository) UpdateConfig(ctx context.Context, cfg *domain.NotificationConfig) error {
	recipients, err := marshalStrings(cfg.Recipients)
	if err != nil {
		return err
	}

	query := `
		UPDATE notification_config
		SET enabled = ?, on_success = ?, on_failure = ?, on_retry = ?, on_schedule_disabled = ?,
			recipients = ?, webhook_url = ?, template = ?, max_per_hour = ?, silence_minutes = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		cfg.Enabled, cfg.OnSuccess, cfg.OnFailure, cfg.OnRetry, cfg.OnScheduleDisabled,
		recipients, cfg.WebhookURL, cfg.Template, cfg.MaxPerHour, cfg.SilenceMinutes, cfg.UpdatedAt.UTC(),
		cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("notification config %d: %w", cfg.ID, repository.ErrNotFound)
	}
	return nil
}

func (r *notificationRepository) DeleteConfig(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notification_config WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("notification config %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

func (r *notificationRepository) ListConfigs(ctx context.Context, scheduleID int64) ([]*domain.NotificationConfig, error) {
	query := `SELECT ` + notificationConfigColumns + ` FROM notification_config WHERE schedule_id = ? ORDER BY id ASC`
	var rows []notificationConfigRow
	if err := r.db.SelectContext(ctx, &rows, query, scheduleID); err != nil {
		return nil, fmt.Errorf("failed to list notification configs: %w", err)
	}

	configs := make([]*domain.NotificationConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (r *notificationRepository) CreateLog(ctx context.Context, entry *domain.NotificationLog) error {
	query := `
		INSERT INTO notification_log (config_id, schedule_id, execution_id, event, outcome, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		entry.ConfigID,
		entry.ScheduleID,
		NullInt64(entry.ExecutionID),
		entry.Event,
		entry.Outcome,
		NullString(entry.ErrorDetail),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

func (r *notificationRepository) RecentLogs(ctx context.Context, configID int64, since time.Time) ([]*domain.NotificationLog, error) {
	query := `
		SELECT ` + notificationLogColumns + `
		FROM notification_log
		WHERE config_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`
	var rows []notificationLogRow
	if err := r.db.SelectContext(ctx, &rows, query, configID, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list recent notification logs: %w", err)
	}
	return logsFromRows(rows), nil
}

func (r *notificationRepository) filteredLogs(query string, filter repository.NotificationLogFilter) (string, []interface{}) {
	args := []interface{}{}
	if filter.ScheduleID != nil {
		query += " AND schedule_id = ?"
		args = append(args, *filter.ScheduleID)
	}
	return ApplyFilters(query, args, filter.Filters)
}

func (r *notificationRepository) ListLogs(ctx context.Context, filter repository.NotificationLogFilter) ([]*domain.NotificationLog, error) {
	query, args := r.filteredLogs(`SELECT `+notificationLogColumns+` FROM notification_log WHERE 1=1`, filter)
	query = ApplyOrdering(query, filter.Order, "created_at DESC, id DESC")
	query, args = ApplyPagination(query, args, filter.ListFilter)

	var rows []notificationLogRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notification logs: %w", err)
	}
	return logsFromRows(rows), nil
}

func (r *notificationRepository) CountLogs(ctx context.Context, filter repository.NotificationLogFilter) (int, error) {
	query, args := r.filteredLogs(`SELECT COUNT(*) FROM notification_log WHERE 1=1`, filter)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count notification logs: %w", err)
	}
	return count, nil
}
