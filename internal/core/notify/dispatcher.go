package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

// EmailSender delivers a message to a list of recipients.
type EmailSender interface {
	SendEmail(ctx context.Context, recipients []string, msg domain.NotificationMessage) error
}

// WebhookSender posts a message to a URL.
type WebhookSender interface {
	SendWebhook(ctx context.Context, url string, msg domain.NotificationMessage) error
}

var ErrChannelUnavailable = errors.New("notification channel not configured")

// storeTimeout bounds history reads and log writes, which outlive the
// caller's ctx so that every attempt leaves a row.
const storeTimeout = 5 * time.Second

// Report counts outcomes of one Dispatch call.
type Report struct {
	Sent      int
	Failed    int
	Throttled int
}

type Dispatcher struct {
	repo    repository.NotificationRepository
	email   EmailSender
	webhook WebhookSender
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewDispatcher(repo repository.NotificationRepository, email EmailSender, webhook WebhookSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		email:   email,
		webhook: webhook,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// configLock serializes throttle check, send and log write per config.
func (d *Dispatcher) configLock(id int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[id]
	if !ok {
		l = &sync.Mutex{}
		d.locks[id] = l
	}
	return l
}

// Dispatch delivers msg through every enabled config of the schedule that
// subscribes to event. Delivery errors are recorded per config and never
// returned; only a failure to load the configs is.
func (d *Dispatcher) Dispatch(ctx context.Context, schedule *domain.Schedule, execution *domain.Execution, event domain.NotificationEvent, msg domain.NotificationMessage) (Report, error) {
	configs, err := d.repo.ListConfigs(ctx, schedule.ID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load notification configs: %w", err)
	}

	var (
		report   Report
		reportMu sync.Mutex
		group    errgroup.Group
	)
	for _, cfg := range configs {
		if !cfg.Wants(event) {
			continue
		}
		group.Go(func() error {
			outcome := d.deliver(ctx, cfg, execution, event, msg)
			reportMu.Lock()
			defer reportMu.Unlock()
			switch outcome {
			case domain.OutcomeSent:
				report.Sent++
			case domain.OutcomeFailed:
				report.Failed++
			case domain.OutcomeThrottled:
				report.Throttled++
			}
			return nil
		})
	}
	_ = group.Wait()
	return report, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cfg *domain.NotificationConfig, execution *domain.Execution, event domain.NotificationEvent, msg domain.NotificationMessage) domain.NotificationOutcome {
	lock := d.configLock(cfg.ID)
	lock.Lock()
	defer lock.Unlock()

	log := d.logger.With(zap.Int64("config_id", cfg.ID), zap.Int64("schedule_id", cfg.ScheduleID), zap.String("event", string(event)))

	now := d.now()
	history, err := d.recentLogs(ctx, cfg, now)
	if err != nil {
		log.Error("failed to load notification history", zap.Error(err))
		return ""
	}

	entry := &domain.NotificationLog{
		ConfigID:   cfg.ID,
		ScheduleID: cfg.ScheduleID,
		Event:      event,
		CreatedAt:  now.UTC(),
	}
	if execution != nil {
		id := execution.ID
		entry.ExecutionID = &id
	}

	if ok, reason := MayNotify(cfg, history, now); !ok {
		entry.Outcome = domain.OutcomeThrottled
		entry.ErrorDetail = &reason
		log.Debug("notification throttled", zap.String("reason", reason))
		d.record(ctx, log, entry)
		return entry.Outcome
	}

	if sendErr := d.send(ctx, cfg, msg); sendErr != nil {
		detail := sendErr.Error()
		entry.Outcome = domain.OutcomeFailed
		entry.ErrorDetail = &detail
		log.Warn("notification delivery failed", zap.String("channel", string(cfg.Kind)), zap.Error(sendErr))
	} else {
		entry.Outcome = domain.OutcomeSent
		log.Info("notification sent", zap.String("channel", string(cfg.Kind)))
	}
	d.record(ctx, log, entry)
	return entry.Outcome
}

func (d *Dispatcher) send(ctx context.Context, cfg *domain.NotificationConfig, msg domain.NotificationMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", cfg.Kind, r)
		}
	}()

	msg, err = render(cfg, msg)
	if err != nil {
		return err
	}

	switch cfg.Kind {
	case domain.ChannelEmail:
		if d.email == nil {
			return fmt.Errorf("%w: email", ErrChannelUnavailable)
		}
		return d.email.SendEmail(ctx, cfg.Recipients, msg)
	case domain.ChannelWebhook:
		if d.webhook == nil {
			return fmt.Errorf("%w: webhook", ErrChannelUnavailable)
		}
		return d.webhook.SendWebhook(ctx, cfg.WebhookURL, msg)
	}
	return fmt.Errorf("unknown channel kind: %s", cfg.Kind)
}

func (d *Dispatcher) recentLogs(ctx context.Context, cfg *domain.NotificationConfig, now time.Time) ([]*domain.NotificationLog, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	return d.repo.RecentLogs(ctx, cfg.ID, now.Add(-HistoryWindow(cfg)))
}

func (d *Dispatcher) record(ctx context.Context, log *zap.Logger, entry *domain.NotificationLog) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := d.repo.CreateLog(ctx, entry); err != nil {
		log.Error("failed to record notification outcome", zap.String("outcome", string(entry.Outcome)), zap.Error(err))
	}
}
