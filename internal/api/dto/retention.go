package dto

import "time"

// CreatePolicyRequest represents the retention policy creation request.
// MaxTotalSize accepts human sizes such as "50GB".
type CreatePolicyRequest struct {
	Name               string `json:"name" binding:"required"`
	Description        string `json:"description"`
	IsDefault          bool   `json:"is_default"`
	DailyDays          *int   `json:"daily_days"`
	WeeklyWeeks        *int   `json:"weekly_weeks"`
	MonthlyMonths      *int   `json:"monthly_months"`
	YearlyYears        *int   `json:"yearly_years"`
	MaxDailyBackups    *int   `json:"max_daily_backups"`
	MaxWeeklyBackups   *int   `json:"max_weekly_backups"`
	MaxMonthlyBackups  *int   `json:"max_monthly_backups"`
	MaxYearlyBackups   *int   `json:"max_yearly_backups"`
	MaxTotalBackups    *int   `json:"max_total_backups"`
	MaxTotalSize       string `json:"max_total_size"`
	AutoCleanupEnabled *bool  `json:"auto_cleanup_enabled"`
	CleanupSchedule    string `json:"cleanup_schedule"`
}

// UpdatePolicyRequest represents the retention policy update request. An
// empty max_total_size string clears the size cap.
type UpdatePolicyRequest struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	IsDefault          *bool   `json:"is_default"`
	DailyDays          *int    `json:"daily_days"`
	WeeklyWeeks        *int    `json:"weekly_weeks"`
	MonthlyMonths      *int    `json:"monthly_months"`
	YearlyYears        *int    `json:"yearly_years"`
	MaxDailyBackups    *int    `json:"max_daily_backups"`
	MaxWeeklyBackups   *int    `json:"max_weekly_backups"`
	MaxMonthlyBackups  *int    `json:"max_monthly_backups"`
	MaxYearlyBackups   *int    `json:"max_yearly_backups"`
	MaxTotalBackups    *int    `json:"max_total_backups"`
	MaxTotalSize       *string `json:"max_total_size"`
	AutoCleanupEnabled *bool   `json:"auto_cleanup_enabled"`
	CleanupSchedule    *string `json:"cleanup_schedule"`
}

type PolicyResponse struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	IsDefault          bool      `json:"is_default"`
	DailyDays          int       `json:"daily_days"`
	WeeklyWeeks        int       `json:"weekly_weeks"`
	MonthlyMonths      int       `json:"monthly_months"`
	YearlyYears        int       `json:"yearly_years"`
	MaxDailyBackups    int       `json:"max_daily_backups"`
	MaxWeeklyBackups   int       `json:"max_weekly_backups"`
	MaxMonthlyBackups  int       `json:"max_monthly_backups"`
	MaxYearlyBackups   int       `json:"max_yearly_backups"`
	MaxTotalBackups    int       `json:"max_total_backups"`
	MaxTotalSizeBytes  *int64    `json:"max_total_size_bytes,omitempty"`
	MaxTotalSize       string    `json:"max_total_size,omitempty"`
	AutoCleanupEnabled bool      `json:"auto_cleanup_enabled"`
	CleanupSchedule    string    `json:"cleanup_schedule"`
	CreatedBy          string    `json:"created_by"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type PolicyListResponse struct {
	Items []PolicyResponse `json:"items"`
}

// CleanupRequest runs a retention policy. Without policy_id the default
// policy is used.
type CleanupRequest struct {
	PolicyID *int64 `json:"policy_id,omitempty"`
	DryRun   bool   `json:"dry_run"`
}

type CleanupResponse struct {
	PolicyID *int64            `json:"policy_id,omitempty"`
	DryRun   bool              `json:"dry_run"`
	Deleted  []string          `json:"deleted"`
	Kept     map[string]string `json:"kept"`
	Failures map[string]string `json:"failures"`
}
