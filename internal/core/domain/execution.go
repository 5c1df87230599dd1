package domain

import "time"

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

type ExecutionKind string

const (
	ExecutionKindScheduled ExecutionKind = "scheduled"
	ExecutionKindManual    ExecutionKind = "manual"
)

// ExecutionMetadata snapshots the schedule at claim time so history stays
// readable after the schedule changes.
type ExecutionMetadata struct {
	ScheduleName string     `json:"schedule_name"`
	BackupType   BackupType `json:"backup_type"`
	Categories   []string   `json:"categories"`
}

// ExecutionErrorDetail is stored as JSON next to error_message.
type ExecutionErrorDetail struct {
	Attempt int    `json:"attempt"`
	Timeout bool   `json:"timeout"`
	Cause   string `json:"cause"`
}

type Execution struct {
	ID              int64
	ScheduleID      int64
	Kind            ExecutionKind
	Status          ExecutionStatus
	Terminal        bool
	RetryCount      int
	MaxRetries      int
	StartedAt       time.Time
	FinishedAt      *time.Time
	DurationSeconds *float64
	BackupID        *string
	SizeBytes       *int64
	ItemCount       *int
	ErrorMessage    *string
	ErrorDetail     *ExecutionErrorDetail
	TriggeredBy     string
	Metadata        ExecutionMetadata
}

func NewExecution(schedule *Schedule, kind ExecutionKind, principal string) *Execution {
	return &Execution{
		ScheduleID:  schedule.ID,
		Kind:        kind,
		Status:      ExecutionStatusRunning,
		MaxRetries:  schedule.MaxRetries,
		StartedAt:   time.Now().UTC(),
		TriggeredBy: principal,
		Metadata: ExecutionMetadata{
			ScheduleName: schedule.Name,
			BackupType:   schedule.BackupType,
			Categories:   append([]string{}, schedule.Categories...),
		},
	}
}

// CanRetry reports whether a failed attempt may re-enter running.
func (e *Execution) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

func (e *Execution) finish(now time.Time) {
	now = now.UTC()
	e.FinishedAt = &now
	d := now.Sub(e.StartedAt).Seconds()
	e.DurationSeconds = &d
}

func (e *Execution) Complete(now time.Time, result ArtifactResult) {
	e.finish(now)
	e.Status = ExecutionStatusCompleted
	e.Terminal = true
	id := result.ArtifactID
	size := result.Size
	items := result.ItemCount
	e.BackupID = &id
	e.SizeBytes = &size
	e.ItemCount = &items
	e.ErrorMessage = nil
	e.ErrorDetail = nil
}

// Fail records a failed attempt. terminal is false while a retry is pending.
func (e *Execution) Fail(now time.Time, message string, detail ExecutionErrorDetail, terminal bool) {
	e.finish(now)
	e.Status = ExecutionStatusFailed
	e.Terminal = terminal
	e.ErrorMessage = &message
	e.ErrorDetail = &detail
}
