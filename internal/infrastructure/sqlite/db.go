package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/martijn/snapkeep/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS client (
	id TEXT PRIMARY KEY,
	secret TEXT NOT NULL,
	label TEXT NOT NULL,
	scopes TEXT NOT NULL, -- JSON array
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS retention_policy (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	is_default INTEGER NOT NULL DEFAULT 0,
	daily_days INTEGER NOT NULL CHECK (daily_days >= 1),
	weekly_weeks INTEGER NOT NULL CHECK (weekly_weeks >= 1),
	monthly_months INTEGER NOT NULL CHECK (monthly_months >= 1),
	yearly_years INTEGER NOT NULL CHECK (yearly_years >= 1),
	max_daily_backups INTEGER NOT NULL CHECK (max_daily_backups >= 1),
	max_weekly_backups INTEGER NOT NULL CHECK (max_weekly_backups >= 1),
	max_monthly_backups INTEGER NOT NULL CHECK (max_monthly_backups >= 1),
	max_yearly_backups INTEGER NOT NULL CHECK (max_yearly_backups >= 1),
	max_total_backups INTEGER NOT NULL CHECK (max_total_backups >= 1),
	max_total_size_bytes INTEGER,
	auto_cleanup_enabled INTEGER NOT NULL DEFAULT 1,
	cleanup_schedule TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	cron_expression TEXT NOT NULL,
	timezone TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	backup_type TEXT NOT NULL,
	categories TEXT NOT NULL, -- JSON array
	max_backup_count INTEGER NOT NULL,
	retention_days INTEGER NOT NULL,
	retention_policy_id INTEGER,
	max_retries INTEGER NOT NULL,
	compression_enabled INTEGER NOT NULL DEFAULT 1,
	last_run_at DATETIME,
	next_run_at DATETIME,
	created_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (retention_policy_id) REFERENCES retention_policy(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS execution (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	schedule_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	terminal INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	duration_seconds REAL,
	backup_id TEXT,
	size_bytes INTEGER,
	item_count INTEGER,
	error_message TEXT,
	error_detail TEXT, -- JSON object
	triggered_by TEXT NOT NULL,
	metadata TEXT NOT NULL, -- JSON object
	FOREIGN KEY (schedule_id) REFERENCES schedule(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS backup (
	id TEXT PRIMARY KEY,
	schedule_id INTEGER,
	execution_id INTEGER,
	created_at DATETIME NOT NULL,
	size_bytes INTEGER NOT NULL,
	item_count INTEGER NOT NULL,
	tags TEXT NOT NULL, -- JSON array
	category TEXT NOT NULL,
	location TEXT NOT NULL,
	FOREIGN KEY (schedule_id) REFERENCES schedule(id) ON DELETE SET NULL,
	FOREIGN KEY (execution_id) REFERENCES execution(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS notification_config (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	schedule_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	on_success INTEGER NOT NULL DEFAULT 0,
	on_failure INTEGER NOT NULL DEFAULT 1,
	on_retry INTEGER NOT NULL DEFAULT 0,
	on_schedule_disabled INTEGER NOT NULL DEFAULT 1,
	recipients TEXT NOT NULL, -- JSON array
	webhook_url TEXT NOT NULL DEFAULT '',
	template TEXT NOT NULL DEFAULT '',
	max_per_hour INTEGER NOT NULL,
	silence_minutes INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY (schedule_id) REFERENCES schedule(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS notification_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	config_id INTEGER NOT NULL,
	schedule_id INTEGER NOT NULL,
	execution_id INTEGER,
	event TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error_detail TEXT,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (config_id) REFERENCES notification_config(id) ON DELETE CASCADE,
	FOREIGN KEY (schedule_id) REFERENCES schedule(id) ON DELETE CASCADE
);

-- At most one open execution per schedule: the claim relies on this index.
CREATE UNIQUE INDEX IF NOT EXISTS ux_execution_open ON execution(schedule_id) WHERE terminal = 0;
-- At most one default retention policy.
CREATE UNIQUE INDEX IF NOT EXISTS ux_retention_policy_default ON retention_policy(is_default) WHERE is_default = 1;

CREATE INDEX IF NOT EXISTS idx_execution_schedule_id ON execution(schedule_id, started_at);
CREATE INDEX IF NOT EXISTS idx_backup_schedule_id ON backup(schedule_id);
CREATE INDEX IF NOT EXISTS idx_backup_created_at ON backup(created_at);
CREATE INDEX IF NOT EXISTS idx_notification_config_schedule_id ON notification_config(schedule_id);
CREATE INDEX IF NOT EXISTS idx_notification_log_config_id ON notification_log(config_id, created_at);
`

// DefaultPolicyName is the name of the policy seeded into an empty database.
const DefaultPolicyName = "default"

type DB struct {
	*sqlx.DB
}

// dsn adds the connection pragmas to a database path. Pragmas in the DSN
// apply to every pooled connection, not just the first.
func dsn(dbPath string) string {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}
	if dbPath != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(params, "&")
}

func New(dbPath string) (*DB, error) {
	db, err := sqlx.Connect("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite has a single writer; one connection keeps writes ordered and
	// makes ":memory:" databases usable.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	wrapped := &DB{db}
	if err := wrapped.seedDefaultPolicy(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return wrapped, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func (db *DB) seedDefaultPolicy(ctx context.Context) error {
	p := domain.NewRetentionPolicy(DefaultPolicyName, "system")
	p.IsDefault = true
	p.Description = "Created automatically; applies to unattached backups"
	query := `
		INSERT INTO retention_policy (` + policyInsertColumns + `)
		SELECT ` + policyInsertPlaceholders + `
		WHERE NOT EXISTS (SELECT 1 FROM retention_policy WHERE is_default = 1)
	`
	if _, err := db.ExecContext(ctx, query, policyInsertArgs(p)...); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to seed default retention policy: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// NullString helper for optional string fields
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullInt64 helper for optional int64 fields
func NullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// NullInt helper for optional int fields
func NullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func NullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// NullTime stores optional timestamps in UTC.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
