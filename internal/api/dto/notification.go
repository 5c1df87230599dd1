package dto

import "time"

// CreateNotificationRequest subscribes a channel to a schedule's events
type CreateNotificationRequest struct {
	Kind               string   `json:"kind" binding:"required,oneof=email webhook"`
	Enabled            *bool    `json:"enabled"`
	OnSuccess          *bool    `json:"on_success"`
	OnFailure          *bool    `json:"on_failure"`
	OnRetry            *bool    `json:"on_retry"`
	OnScheduleDisabled *bool    `json:"on_schedule_disabled"`
	Recipients         []string `json:"recipients"`
	WebhookURL         string   `json:"webhook_url"`
	Template           string   `json:"template"`
	MaxPerHour         *int     `json:"max_per_hour"`
	SilenceMinutes     *int     `json:"silence_minutes"`
}

type UpdateNotificationRequest struct {
	Enabled            *bool    `json:"enabled"`
	OnSuccess          *bool    `json:"on_success"`
	OnFailure          *bool    `json:"on_failure"`
	OnRetry            *bool    `json:"on_retry"`
	OnScheduleDisabled *bool    `json:"on_schedule_disabled"`
	Recipients         []string `json:"recipients"`
	WebhookURL         *string  `json:"webhook_url"`
	Template           *string  `json:"template"`
	MaxPerHour         *int     `json:"max_per_hour"`
	SilenceMinutes     *int     `json:"silence_minutes"`
}

type NotificationResponse struct {
	ID                 int64     `json:"id"`
	ScheduleID         int64     `json:"schedule_id"`
	Kind               string    `json:"kind"`
	Enabled            bool      `json:"enabled"`
	OnSuccess          bool      `json:"on_success"`
	OnFailure          bool      `json:"on_failure"`
	OnRetry            bool      `json:"on_retry"`
	OnScheduleDisabled bool      `json:"on_schedule_disabled"`
	Recipients         []string  `json:"recipients"`
	WebhookURL         string    `json:"webhook_url,omitempty"`
	Template           string    `json:"template,omitempty"`
	MaxPerHour         int       `json:"max_per_hour"`
	SilenceMinutes     int       `json:"silence_minutes"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type NotificationListResponse struct {
	Items []NotificationResponse `json:"items"`
}

type NotificationLogResponse struct {
	ID          int64     `json:"id"`
	ConfigID    int64     `json:"config_id"`
	ScheduleID  int64     `json:"schedule_id"`
	ExecutionID *int64    `json:"execution_id,omitempty"`
	Event       string    `json:"event"`
	Outcome     string    `json:"outcome"`
	ErrorDetail *string   `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type NotificationLogListResponse struct {
	Items      []NotificationLogResponse `json:"items"`
	Pagination PaginationInfo            `json:"pagination"`
}
