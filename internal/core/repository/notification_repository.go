package repository

import (
	"context"
	"time"

	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/domain"
)

// NotificationLogFilter embeds ListFilter for generic query/order/pagination
type NotificationLogFilter struct {
	util.ListFilter
	ScheduleID *int64
}

type NotificationRepository interface {
	CreateConfig(ctx context.Context, cfg *domain.NotificationConfig) error
	FindConfigByID(ctx context.Context, id int64) (*domain.NotificationConfig, error)
	UpdateConfig(ctx context.Context, cfg *domain.NotificationConfig) error
	DeleteConfig(ctx context.Context, id int64) error
	ListConfigs(ctx context.Context, scheduleID int64) ([]*domain.NotificationConfig, error)

	CreateLog(ctx context.Context, entry *domain.NotificationLog) error
	// RecentLogs returns a config's log rows created at or after since.
	RecentLogs(ctx context.Context, configID int64, since time.Time) ([]*domain.NotificationLog, error)
	ListLogs(ctx context.Context, filter NotificationLogFilter) ([]*domain.NotificationLog, error)
	CountLogs(ctx context.Context, filter NotificationLogFilter) (int, error)
}
