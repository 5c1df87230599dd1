package service

import (
	"context"
	"net/mail"
	"net/url"
	"time"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/internal/core/repository"
)

type NotificationService struct {
	notificationRepo repository.NotificationRepository
	scheduleRepo     repository.ScheduleRepository
}

func NewNotificationService(notificationRepo repository.NotificationRepository, scheduleRepo repository.ScheduleRepository) *NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		scheduleRepo:     scheduleRepo,
	}
}

func validateNotificationConfig(cfg *domain.NotificationConfig) error {
	switch cfg.Kind {
	case domain.ChannelEmail:
		if len(cfg.Recipients) == 0 {
			return validationError("email notifications need at least one recipient")
		}
		for _, r := range cfg.Recipients {
			if _, err := mail.ParseAddress(r); err != nil {
				return validationError("invalid recipient %q", r)
			}
		}
	case domain.ChannelWebhook:
		u, err := url.Parse(cfg.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return validationError("webhook_url must be an http or https URL")
		}
	default:
		return validationError("invalid kind %q (expected email or webhook)", cfg.Kind)
	}
	if cfg.MaxPerHour < 1 {
		return validationError("max_per_hour must be at least 1")
	}
	if cfg.SilenceMinutes < 0 {
		return validationError("silence_minutes must not be negative")
	}
	if err := notify.ValidateTemplate(cfg.Template); err != nil {
		return validationError("%v", err)
	}
	return nil
}

func (s *NotificationService) CreateConfig(ctx context.Context, cfg *domain.NotificationConfig) error {
	if _, err := s.scheduleRepo.FindByID(ctx, cfg.ScheduleID); err != nil {
		return translate(err, "schedule")
	}
	if err := validateNotificationConfig(cfg); err != nil {
		return err
	}
	return s.notificationRepo.CreateConfig(ctx, cfg)
}

func (s *NotificationService) GetConfig(ctx context.Context, id int64) (*domain.NotificationConfig, error) {
	cfg, err := s.notificationRepo.FindConfigByID(ctx, id)
	if err != nil {
		return nil, translate(err, "notification config")
	}
	return cfg, nil
}

func (s *NotificationService) UpdateConfig(ctx context.Context, id int64, patch domain.NotificationConfigPatch) (*domain.NotificationConfig, error) {
	current, err := s.GetConfig(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := patch.Apply(*current)
	if err := validateNotificationConfig(&updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now().UTC()
	if err := s.notificationRepo.UpdateConfig(ctx, &updated); err != nil {
		return nil, translate(err, "notification config")
	}
	return &updated, nil
}

func (s *NotificationService) DeleteConfig(ctx context.Context, id int64) error {
	return translate(s.notificationRepo.DeleteConfig(ctx, id), "notification config")
}

func (s *NotificationService) ListConfigs(ctx context.Context, scheduleID int64) ([]*domain.NotificationConfig, error) {
	if _, err := s.scheduleRepo.FindByID(ctx, scheduleID); err != nil {
		return nil, translate(err, "schedule")
	}
	return s.notificationRepo.ListConfigs(ctx, scheduleID)
}

func (s *NotificationService) ListLogs(ctx context.Context, filter repository.NotificationLogFilter) ([]*domain.NotificationLog, error) {
	return s.notificationRepo.ListLogs(ctx, filter)
}

func (s *NotificationService) CountLogs(ctx context.Context, filter repository.NotificationLogFilter) (int, error) {
	return s.notificationRepo.CountLogs(ctx, filter)
}
