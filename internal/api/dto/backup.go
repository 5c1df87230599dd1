package dto

import "time"

// BackupResponse represents a stored backup artifact
type BackupResponse struct {
	ID          string    `json:"id"`
	ScheduleID  *int64    `json:"schedule_id,omitempty"`
	ExecutionID *int64    `json:"execution_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
	Size        string    `json:"size"`
	ItemCount   int       `json:"item_count"`
	Tags        []string  `json:"tags"`
	Category    string    `json:"category"`
	Location    string    `json:"location"`
}

// BackupListResponse represents a list of backups
type BackupListResponse struct {
	Items      []BackupResponse `json:"items"`
	Pagination PaginationInfo   `json:"pagination"`
}
