package domain

import (
	"fmt"
	"time"
)

type RetentionPolicy struct {
	ID                 int64
	Name               string
	Description        string
	IsDefault          bool
	DailyDays          int
	WeeklyWeeks        int
	MonthlyMonths      int
	YearlyYears        int
	MaxDailyBackups    int
	MaxWeeklyBackups   int
	MaxMonthlyBackups  int
	MaxYearlyBackups   int
	MaxTotalBackups    int
	MaxTotalSizeBytes  *int64
	AutoCleanupEnabled bool
	CleanupSchedule    string
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const DefaultCleanupSchedule = "0 3 * * 0"

func NewRetentionPolicy(name, createdBy string) *RetentionPolicy {
	now := time.Now().UTC()
	return &RetentionPolicy{
		Name:               name,
		DailyDays:          7,
		WeeklyWeeks:        4,
		MonthlyMonths:      12,
		YearlyYears:        3,
		MaxDailyBackups:    1,
		MaxWeeklyBackups:   1,
		MaxMonthlyBackups:  1,
		MaxYearlyBackups:   1,
		MaxTotalBackups:    100,
		AutoCleanupEnabled: true,
		CleanupSchedule:    DefaultCleanupSchedule,
		CreatedBy:          createdBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// CheckBounds returns a description of the first window or count below one,
// or nil when all are in range.
func (p *RetentionPolicy) CheckBounds() error {
	fields := []struct {
		name  string
		value int
	}{
		{"daily_days", p.DailyDays},
		{"weekly_weeks", p.WeeklyWeeks},
		{"monthly_months", p.MonthlyMonths},
		{"yearly_years", p.YearlyYears},
		{"max_daily_backups", p.MaxDailyBackups},
		{"max_weekly_backups", p.MaxWeeklyBackups},
		{"max_monthly_backups", p.MaxMonthlyBackups},
		{"max_yearly_backups", p.MaxYearlyBackups},
		{"max_total_backups", p.MaxTotalBackups},
	}
	for _, f := range fields {
		if f.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", f.name, f.value)
		}
	}
	if p.MaxTotalSizeBytes != nil && *p.MaxTotalSizeBytes < 1 {
		return fmt.Errorf("max_total_size must be positive")
	}
	return nil
}

// RetentionPolicyPatch lists every mutable policy field explicitly. A nil
// pointer means "keep the current value".
type RetentionPolicyPatch struct {
	Name               *string
	Description        *string
	IsDefault          *bool
	DailyDays          *int
	WeeklyWeeks        *int
	MonthlyMonths      *int
	YearlyYears        *int
	MaxDailyBackups    *int
	MaxWeeklyBackups   *int
	MaxMonthlyBackups  *int
	MaxYearlyBackups   *int
	MaxTotalBackups    *int
	MaxTotalSizeBytes  *int64
	ClearMaxTotalSize  bool
	AutoCleanupEnabled *bool
	CleanupSchedule    *string
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Apply merges the patch into a copy of p. It performs no validation.
func (patch RetentionPolicyPatch) Apply(p RetentionPolicy) RetentionPolicy {
	setIf(&p.Name, patch.Name)
	setIf(&p.Description, patch.Description)
	setIf(&p.IsDefault, patch.IsDefault)
	setIf(&p.DailyDays, patch.DailyDays)
	setIf(&p.WeeklyWeeks, patch.WeeklyWeeks)
	setIf(&p.MonthlyMonths, patch.MonthlyMonths)
	setIf(&p.YearlyYears, patch.YearlyYears)
	setIf(&p.MaxDailyBackups, patch.MaxDailyBackups)
	setIf(&p.MaxWeeklyBackups, patch.MaxWeeklyBackups)
	setIf(&p.MaxMonthlyBackups, patch.MaxMonthlyBackups)
	setIf(&p.MaxYearlyBackups, patch.MaxYearlyBackups)
	setIf(&p.MaxTotalBackups, patch.MaxTotalBackups)
	setIf(&p.AutoCleanupEnabled, patch.AutoCleanupEnabled)
	setIf(&p.CleanupSchedule, patch.CleanupSchedule)
	switch {
	case patch.ClearMaxTotalSize:
		p.MaxTotalSizeBytes = nil
	case patch.MaxTotalSizeBytes != nil:
		v := *patch.MaxTotalSizeBytes
		p.MaxTotalSizeBytes = &v
	}
	return p
}
