package service

import (
	"context"
	"io"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
)

// ArtifactProducer serializes the configuration selected by a request into a
// stored backup payload.
type ArtifactProducer interface {
	Produce(ctx context.Context, req domain.ArtifactRequest) (domain.ArtifactResult, error)
}

// ArtifactStore keeps backup payloads. Location is the store-specific key
// returned by Put.
type ArtifactStore interface {
	Put(ctx context.Context, key string, r io.Reader) (location string, err error)
	Delete(ctx context.Context, location string) error
}

// Notifier fans an event out to a schedule's notification configs.
type Notifier interface {
	Dispatch(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution, event domain.NotificationEvent, msg domain.NotificationMessage) (notify.Report, error)
}

// EventPublisher announces execution state changes to external listeners.
type EventPublisher interface {
	PublishExecution(ctx context.Context, execution *domain.Execution) error
}
