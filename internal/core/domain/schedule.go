package domain

import "time"

type BackupType string

const (
	BackupTypeFull         BackupType = "full"
	BackupTypeIncremental  BackupType = "incremental"
	BackupTypeDifferential BackupType = "differential"
)

func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeDifferential:
		return true
	}
	return false
}

type Schedule struct {
	ID                 int64
	Name               string
	Description        string
	CronExpression     string
	Timezone           string
	Enabled            bool
	BackupType         BackupType
	Categories         []string // passed to the producer as a filter
	MaxBackupCount     int
	RetentionDays      int
	RetentionPolicyID  *int64
	MaxRetries         int
	CompressionEnabled bool
	LastRunAt          *time.Time
	NextRunAt          *time.Time
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewSchedule(name, cronExpression, timezone string, backupType BackupType, createdBy string) *Schedule {
	now := time.Now().UTC()
	return &Schedule{
		Name:               name,
		CronExpression:     cronExpression,
		Timezone:           timezone,
		Enabled:            true,
		BackupType:         backupType,
		Categories:         []string{},
		MaxBackupCount:     10,
		RetentionDays:      30,
		MaxRetries:         3,
		CompressionEnabled: true,
		CreatedBy:          createdBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsDue reports whether an enabled schedule should fire at now.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Enabled && s.NextRunAt != nil && !s.NextRunAt.After(now)
}

// SchedulePatch carries the optional fields of a schedule update. Nil fields
// are left untouched.
type SchedulePatch struct {
	Name               *string
	Description        *string
	CronExpression     *string
	Timezone           *string
	Enabled            *bool
	BackupType         *BackupType
	Categories         []string
	MaxBackupCount     *int
	RetentionDays      *int
	RetentionPolicyID  *int64
	ClearPolicy        bool
	MaxRetries         *int
	CompressionEnabled *bool
}

// Apply returns a copy of s with the patch merged in, and whether any field
// that feeds next_run_at changed.
func (p SchedulePatch) Apply(s Schedule) (Schedule, bool) {
	timingChanged := false
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.CronExpression != nil && *p.CronExpression != s.CronExpression {
		s.CronExpression = *p.CronExpression
		timingChanged = true
	}
	if p.Timezone != nil && *p.Timezone != s.Timezone {
		s.Timezone = *p.Timezone
		timingChanged = true
	}
	if p.Enabled != nil && *p.Enabled != s.Enabled {
		s.Enabled = *p.Enabled
		timingChanged = true
	}
	if p.BackupType != nil {
		s.BackupType = *p.BackupType
	}
	if p.Categories != nil {
		s.Categories = append([]string(nil), p.Categories...)
	}
	if p.MaxBackupCount != nil {
		s.MaxBackupCount = *p.MaxBackupCount
	}
	if p.RetentionDays != nil {
		s.RetentionDays = *p.RetentionDays
	}
	if p.ClearPolicy {
		s.RetentionPolicyID = nil
	} else if p.RetentionPolicyID != nil {
		id := *p.RetentionPolicyID
		s.RetentionPolicyID = &id
	}
	if p.MaxRetries != nil {
		s.MaxRetries = *p.MaxRetries
	}
	if p.CompressionEnabled != nil {
		s.CompressionEnabled = *p.CompressionEnabled
	}
	return s, timingChanged
}
