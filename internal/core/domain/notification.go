package domain

import "time"

type ChannelKind string

const (
	ChannelEmail   ChannelKind = "email"
	ChannelWebhook ChannelKind = "webhook"
)

type NotificationEvent string

const (
	EventSuccess          NotificationEvent = "success"
	EventFailure          NotificationEvent = "failure"
	EventRetry            NotificationEvent = "retry"
	EventScheduleDisabled NotificationEvent = "schedule_disabled"
)

type NotificationOutcome string

const (
	OutcomeSent      NotificationOutcome = "sent"
	OutcomeFailed    NotificationOutcome = "failed"
	OutcomeThrottled NotificationOutcome = "throttled"
)

type NotificationConfig struct {
	ID                 int64
	ScheduleID         int64
	Kind               ChannelKind
	Enabled            bool
	OnSuccess          bool
	OnFailure          bool
	OnRetry            bool
	OnScheduleDisabled bool
	Recipients         []string
	WebhookURL         string
	Template           string
	MaxPerHour         int
	SilenceMinutes     int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewNotificationConfig(scheduleID int64, kind ChannelKind) *NotificationConfig {
	now := time.Now().UTC()
	return &NotificationConfig{
		ScheduleID:         scheduleID,
		Kind:               kind,
		Enabled:            true,
		OnFailure:          true,
		OnScheduleDisabled: true,
		Recipients:         []string{},
		MaxPerHour:         10,
		SilenceMinutes:     60,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Wants reports whether the config subscribes to event.
func (c *NotificationConfig) Wants(event NotificationEvent) bool {
	if !c.Enabled {
		return false
	}
	switch event {
	case EventSuccess:
		return c.OnSuccess
	case EventFailure:
		return c.OnFailure
	case EventRetry:
		return c.OnRetry
	case EventScheduleDisabled:
		return c.OnScheduleDisabled
	}
	return false
}

type NotificationConfigPatch struct {
	Enabled            *bool
	OnSuccess          *bool
	OnFailure          *bool
	OnRetry            *bool
	OnScheduleDisabled *bool
	Recipients         []string
	WebhookURL         *string
	Template           *string
	MaxPerHour         *int
	SilenceMinutes     *int
}

func (patch NotificationConfigPatch) Apply(c NotificationConfig) NotificationConfig {
	setIf(&c.Enabled, patch.Enabled)
	setIf(&c.OnSuccess, patch.OnSuccess)
	setIf(&c.OnFailure, patch.OnFailure)
	setIf(&c.OnRetry, patch.OnRetry)
	setIf(&c.OnScheduleDisabled, patch.OnScheduleDisabled)
	setIf(&c.WebhookURL, patch.WebhookURL)
	setIf(&c.Template, patch.Template)
	setIf(&c.MaxPerHour, patch.MaxPerHour)
	setIf(&c.SilenceMinutes, patch.SilenceMinutes)
	if patch.Recipients != nil {
		c.Recipients = append([]string(nil), patch.Recipients...)
	}
	return c
}

type NotificationLog struct {
	ID          int64
	ConfigID    int64
	ScheduleID  int64
	ExecutionID *int64
	Event       NotificationEvent
	Outcome     NotificationOutcome
	ErrorDetail *string
	CreatedAt   time.Time
}

// NotificationMessage is the payload handed to channel adapters. Webhooks
// receive it as JSON.
type NotificationMessage struct {
	Event           NotificationEvent `json:"event"`
	Subject         string            `json:"subject"`
	Message         string            `json:"message"`
	ScheduleID      int64             `json:"schedule_id"`
	ScheduleName    string            `json:"schedule_name"`
	ExecutionID     *int64            `json:"execution_id,omitempty"`
	ExecutionKind   ExecutionKind     `json:"type,omitempty"`
	Status          ExecutionStatus   `json:"status,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	BackupID        *string           `json:"backup_id,omitempty"`
	SizeBytes       *int64            `json:"size_bytes,omitempty"`
	Size            string            `json:"size,omitempty"`
	ItemCount       *int              `json:"settings_count,omitempty"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	RetryCount      int               `json:"retry_count"`
	Timestamp       time.Time         `json:"timestamp"`
}
