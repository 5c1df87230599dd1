package dto

import "time"

type ExecutionErrorDetail struct {
	Attempt int    `json:"attempt"`
	Timeout bool   `json:"timeout"`
	Cause   string `json:"cause"`
}

// ExecutionResponse represents one run of a schedule
type ExecutionResponse struct {
	ID              int64                 `json:"id"`
	ScheduleID      int64                 `json:"schedule_id"`
	ScheduleName    string                `json:"schedule_name"`
	Kind            string                `json:"kind"`
	Status          string                `json:"status"`
	Terminal        bool                  `json:"terminal"`
	RetryCount      int                   `json:"retry_count"`
	MaxRetries      int                   `json:"max_retries"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
	DurationSeconds *float64              `json:"duration_seconds,omitempty"`
	BackupID        *string               `json:"backup_id,omitempty"`
	SizeBytes       *int64                `json:"size_bytes,omitempty"`
	ItemCount       *int                  `json:"item_count,omitempty"`
	ErrorMessage    *string               `json:"error_message,omitempty"`
	ErrorDetail     *ExecutionErrorDetail `json:"error_detail,omitempty"`
	TriggeredBy     string                `json:"triggered_by"`
	BackupType      string                `json:"backup_type"`
	Categories      []string              `json:"categories"`
}

// ExecutionListResponse represents a list of executions
type ExecutionListResponse struct {
	Items      []ExecutionResponse `json:"items"`
	Pagination PaginationInfo      `json:"pagination"`
}
