package domain

import "time"

const (
	CategoryScheduled = "scheduled"
	CategoryManual    = "manual"
)

// Backup is immutable artifact metadata. Rows are only ever inserted or
// deleted.
type Backup struct {
	ID          string
	ScheduleID  *int64
	ExecutionID *int64
	CreatedAt   time.Time
	SizeBytes   int64
	ItemCount   int
	Tags        []string
	Category    string
	Location    string
}

func NewBackup(execution *Execution, result ArtifactResult, createdAt time.Time) *Backup {
	scheduleID := execution.ScheduleID
	executionID := execution.ID
	b := &Backup{
		ID:          result.ArtifactID,
		ScheduleID:  &scheduleID,
		ExecutionID: &executionID,
		CreatedAt:   createdAt.UTC(),
		SizeBytes:   result.Size,
		ItemCount:   result.ItemCount,
		Location:    result.Location,
	}
	if execution.Kind == ExecutionKindManual {
		b.Tags = []string{"manual", "user-triggered"}
		b.Category = CategoryManual
	} else {
		b.Tags = []string{"scheduled", "auto"}
		b.Category = CategoryScheduled
	}
	return b
}
