package dto

import "time"

// CreateScheduleRequest represents the schedule creation request. Omitted
// optional fields take the server defaults.
type CreateScheduleRequest struct {
	Name               string   `json:"name" binding:"required"`
	Description        string   `json:"description"`
	CronExpression     string   `json:"cron_expression" binding:"required"`
	Timezone           string   `json:"timezone"`
	Enabled            *bool    `json:"enabled"`
	BackupType         string   `json:"backup_type"`
	Categories         []string `json:"categories"`
	MaxBackupCount     *int     `json:"max_backup_count"`
	RetentionDays      *int     `json:"retention_days"`
	RetentionPolicyID  *int64   `json:"retention_policy_id"`
	MaxRetries         *int     `json:"max_retries"`
	CompressionEnabled *bool    `json:"compression_enabled"`
}

// UpdateScheduleRequest represents the schedule update request
type UpdateScheduleRequest struct {
	Name               *string  `json:"name"`
	Description        *string  `json:"description"`
	CronExpression     *string  `json:"cron_expression"`
	Timezone           *string  `json:"timezone"`
	Enabled            *bool    `json:"enabled"`
	BackupType         *string  `json:"backup_type"`
	Categories         []string `json:"categories"`
	MaxBackupCount     *int     `json:"max_backup_count"`
	RetentionDays      *int     `json:"retention_days"`
	RetentionPolicyID  *int64   `json:"retention_policy_id"`
	ClearPolicy        bool     `json:"clear_retention_policy"`
	MaxRetries         *int     `json:"max_retries"`
	CompressionEnabled *bool    `json:"compression_enabled"`
}

// ScheduleResponse represents a schedule
type ScheduleResponse struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	CronExpression     string     `json:"cron_expression"`
	Timezone           string     `json:"timezone"`
	Enabled            bool       `json:"enabled"`
	BackupType         string     `json:"backup_type"`
	Categories         []string   `json:"categories"`
	MaxBackupCount     int        `json:"max_backup_count"`
	RetentionDays      int        `json:"retention_days"`
	RetentionPolicyID  *int64     `json:"retention_policy_id,omitempty"`
	MaxRetries         int        `json:"max_retries"`
	CompressionEnabled bool       `json:"compression_enabled"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
	NextRunAt          *time.Time `json:"next_run_at,omitempty"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ScheduleListResponse represents a list of schedules
type ScheduleListResponse struct {
	Items      []ScheduleResponse `json:"items"`
	Pagination PaginationInfo     `json:"pagination"`
}

type ScheduleStatsResponse struct {
	PeriodDays         int     `json:"period_days"`
	Total              int     `json:"total"`
	Successful         int     `json:"successful"`
	Failed             int     `json:"failed"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// ScheduleStatusResponse is the schedule with its recent history
type ScheduleStatusResponse struct {
	Schedule            ScheduleResponse      `json:"schedule"`
	RecentExecutions    []ExecutionResponse   `json:"recent_executions"`
	Stats               ScheduleStatsResponse `json:"stats"`
	SecondsUntilNextRun *int64                `json:"seconds_until_next_run,omitempty"`
}
