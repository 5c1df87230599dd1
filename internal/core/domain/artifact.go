package domain

// ArtifactRequest is what the core hands to the artifact producer.
type ArtifactRequest struct {
	ScheduleID   int64
	ScheduleName string
	ExecutionID  int64
	Kind         ExecutionKind
	BackupType   BackupType
	Categories   []string
	Compress     bool
}

// ArtifactResult is what a producer returns for a finished backup payload.
type ArtifactResult struct {
	ArtifactID string
	Size       int64
	ItemCount  int
	Location   string
}
