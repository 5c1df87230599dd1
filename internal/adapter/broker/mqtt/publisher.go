package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/service"
)

// Publisher is the part of Broker the execution publisher needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ExecutionEvent is the JSON body published for every execution change.
type ExecutionEvent struct {
	ExecutionID  int64                  `json:"execution_id"`
	ScheduleID   int64                  `json:"schedule_id"`
	ScheduleName string                 `json:"schedule_name"`
	Kind         domain.ExecutionKind   `json:"type"`
	Status       domain.ExecutionStatus `json:"status"`
	Terminal     bool                   `json:"terminal"`
	RetryCount   int                    `json:"retry_count"`
	BackupID     *string                `json:"backup_id,omitempty"`
	ErrorMessage *string                `json:"error_message,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
}

// ExecutionPublisher sends execution events to
// <prefix>/schedules/<schedule id>/executions.
type ExecutionPublisher struct {
	pub    Publisher
	prefix string
}

var _ service.EventPublisher = (*ExecutionPublisher)(nil)

func NewExecutionPublisher(pub Publisher, prefix string) *ExecutionPublisher {
	return &ExecutionPublisher{pub: pub, prefix: strings.Trim(prefix, "/")}
}

func (p *ExecutionPublisher) Topic(scheduleID int64) string {
	return fmt.Sprintf("%s/schedules/%d/executions", p.prefix, scheduleID)
}

func (p *ExecutionPublisher) PublishExecution(ctx context.Context, e *domain.Execution) error {
	payload, err := json.Marshal(ExecutionEvent{
		ExecutionID:  e.ID,
		ScheduleID:   e.ScheduleID,
		ScheduleName: e.Metadata.ScheduleName,
		Kind:         e.Kind,
		Status:       e.Status,
		Terminal:     e.Terminal,
		RetryCount:   e.RetryCount,
		BackupID:     e.BackupID,
		ErrorMessage: e.ErrorMessage,
		StartedAt:    e.StartedAt,
		FinishedAt:   e.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal execution event: %w", err)
	}
	if err := p.pub.Publish(ctx, p.Topic(e.ScheduleID), payload); err != nil {
		return fmt.Errorf("failed to publish execution event: %w", err)
	}
	return nil
}
