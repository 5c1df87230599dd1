package handler

import (
	"github.com/dustin/go-humanize"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/core/domain"
)

func toScheduleResponse(s *domain.Schedule) dto.ScheduleResponse {
	return dto.ScheduleResponse{
		ID:                 s.ID,
		Name:               s.Name,
		Description:        s.Description,
		CronExpression:     s.CronExpression,
		Timezone:           s.Timezone,
		Enabled:            s.Enabled,
		BackupType:         string(s.BackupType),
		Categories:         nonNil(s.Categories),
		MaxBackupCount:     s.MaxBackupCount,
		RetentionDays:      s.RetentionDays,
		RetentionPolicyID:  s.RetentionPolicyID,
		MaxRetries:         s.MaxRetries,
		CompressionEnabled: s.CompressionEnabled,
		LastRunAt:          s.LastRunAt,
		NextRunAt:          s.NextRunAt,
		CreatedBy:          s.CreatedBy,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func toExecutionResponse(e *domain.Execution) dto.ExecutionResponse {
	resp := dto.ExecutionResponse{
		ID:              e.ID,
		ScheduleID:      e.ScheduleID,
		ScheduleName:    e.Metadata.ScheduleName,
		Kind:            string(e.Kind),
		Status:          string(e.Status),
		Terminal:        e.Terminal,
		RetryCount:      e.RetryCount,
		MaxRetries:      e.MaxRetries,
		StartedAt:       e.StartedAt,
		FinishedAt:      e.FinishedAt,
		DurationSeconds: e.DurationSeconds,
		BackupID:        e.BackupID,
		SizeBytes:       e.SizeBytes,
		ItemCount:       e.ItemCount,
		ErrorMessage:    e.ErrorMessage,
		TriggeredBy:     e.TriggeredBy,
		BackupType:      string(e.Metadata.BackupType),
		Categories:      nonNil(e.Metadata.Categories),
	}
	if e.ErrorDetail != nil {
		resp.ErrorDetail = &dto.ExecutionErrorDetail{
			Attempt: e.ErrorDetail.Attempt,
			Timeout: e.ErrorDetail.Timeout,
			Cause:   e.ErrorDetail.Cause,
		}
	}
	return resp
}

func toExecutionResponses(executions []*domain.Execution) []dto.ExecutionResponse {
	items := make([]dto.ExecutionResponse, len(executions))
	for i, e := range executions {
		items[i] = toExecutionResponse(e)
	}
	return items
}

func toBackupResponse(b *domain.Backup) dto.BackupResponse {
	return dto.BackupResponse{
		ID:          b.ID,
		ScheduleID:  b.ScheduleID,
		ExecutionID: b.ExecutionID,
		CreatedAt:   b.CreatedAt,
		SizeBytes:   b.SizeBytes,
		Size:        humanize.Bytes(uint64(b.SizeBytes)),
		ItemCount:   b.ItemCount,
		Tags:        nonNil(b.Tags),
		Category:    b.Category,
		Location:    b.Location,
	}
}

func toPolicyResponse(p *domain.RetentionPolicy) dto.PolicyResponse {
	resp := dto.PolicyResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		IsDefault:          p.IsDefault,
		DailyDays:          p.DailyDays,
		WeeklyWeeks:        p.WeeklyWeeks,
		MonthlyMonths:      p.MonthlyMonths,
		YearlyYears:        p.YearlyYears,
		MaxDailyBackups:    p.MaxDailyBackups,
		MaxWeeklyBackups:   p.MaxWeeklyBackups,
		MaxMonthlyBackups:  p.MaxMonthlyBackups,
		MaxYearlyBackups:   p.MaxYearlyBackups,
		MaxTotalBackups:    p.MaxTotalBackups,
		MaxTotalSizeBytes:  p.MaxTotalSizeBytes,
		AutoCleanupEnabled: p.AutoCleanupEnabled,
		CleanupSchedule:    p.CleanupSchedule,
		CreatedBy:          p.CreatedBy,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.MaxTotalSizeBytes != nil {
		resp.MaxTotalSize = humanize.Bytes(uint64(*p.MaxTotalSizeBytes))
	}
	return resp
}

func toNotificationResponse(cfg *domain.NotificationConfig) dto.NotificationResponse {
	return dto.NotificationResponse{
		ID:                 cfg.ID,
		ScheduleID:         cfg.ScheduleID,
		Kind:               string(cfg.Kind),
		Enabled:            cfg.Enabled,
		OnSuccess:          cfg.OnSuccess,
		OnFailure:          cfg.OnFailure,
		OnRetry:            cfg.OnRetry,
		OnScheduleDisabled: cfg.OnScheduleDisabled,
		Recipients:         nonNil(cfg.Recipients),
		WebhookURL:         cfg.WebhookURL,
		Template:           cfg.Template,
		MaxPerHour:         cfg.MaxPerHour,
		SilenceMinutes:     cfg.SilenceMinutes,
		CreatedAt:          cfg.CreatedAt,
		UpdatedAt:          cfg.UpdatedAt,
	}
}

func toNotificationLogResponse(l *domain.NotificationLog) dto.NotificationLogResponse {
	return dto.NotificationLogResponse{
		ID:          l.ID,
		ConfigID:    l.ConfigID,
		ScheduleID:  l.ScheduleID,
		ExecutionID: l.ExecutionID,
		Event:       string(l.Event),
		Outcome:     string(l.Outcome),
		ErrorDetail: l.ErrorDetail,
		CreatedAt:   l.CreatedAt,
	}
}

func toClientResponse(c *domain.Client) dto.ClientResponse {
	return dto.ClientResponse{
		ID:        c.ID,
		Label:     c.Label,
		Scopes:    nonNil(c.Scopes),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
