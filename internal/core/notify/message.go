package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/martijn/snapkeep/internal/core/domain"
)

var subjects = map[domain.NotificationEvent]string{
	domain.EventSuccess:          "Backup completed",
	domain.EventFailure:          "Backup failed",
	domain.EventRetry:            "Backup retrying",
	domain.EventScheduleDisabled: "Schedule disabled",
}

// BuildMessage assembles the payload for an event. execution may be nil for
// schedule-level events.
func BuildMessage(event domain.NotificationEvent, schedule *domain.Schedule, execution *domain.Execution, now time.Time) domain.NotificationMessage {
	msg := domain.NotificationMessage{
		Event:        event,
		Subject:      fmt.Sprintf("[snapkeep] %s: %s", subjects[event], schedule.Name),
		ScheduleID:   schedule.ID,
		ScheduleName: schedule.Name,
		Timestamp:    now.UTC(),
	}

	if execution != nil {
		id := execution.ID
		started := execution.StartedAt
		msg.ExecutionID = &id
		msg.ExecutionKind = execution.Kind
		msg.Status = execution.Status
		msg.StartedAt = &started
		msg.BackupID = execution.BackupID
		msg.SizeBytes = execution.SizeBytes
		msg.ItemCount = execution.ItemCount
		msg.DurationSeconds = execution.DurationSeconds
		msg.ErrorMessage = execution.ErrorMessage
		msg.RetryCount = execution.RetryCount
		if execution.SizeBytes != nil {
			msg.Size = humanize.Bytes(uint64(*execution.SizeBytes))
		}
	}

	msg.Message = defaultBody(msg)
	return msg
}

func defaultBody(msg domain.NotificationMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schedule: %s (#%d)\n", msg.ScheduleName, msg.ScheduleID)

	switch msg.Event {
	case domain.EventScheduleDisabled:
		b.WriteString("The schedule has been disabled and will not run until it is enabled again.\n")
		return b.String()
	case domain.EventSuccess:
		b.WriteString("The backup completed successfully.\n")
	case domain.EventFailure:
		b.WriteString("The backup failed and all retries are exhausted.\n")
	case domain.EventRetry:
		fmt.Fprintf(&b, "The backup failed and will be retried (attempt %d).\n", msg.RetryCount+2)
	}

	if msg.ExecutionID != nil {
		fmt.Fprintf(&b, "Execution: #%d (%s)\n", *msg.ExecutionID, msg.ExecutionKind)
	}
	if msg.StartedAt != nil {
		fmt.Fprintf(&b, "Started: %s\n", msg.StartedAt.UTC().Format(time.RFC3339))
	}
	if msg.BackupID != nil {
		fmt.Fprintf(&b, "Backup: %s\n", *msg.BackupID)
	}
	if msg.Size != "" {
		fmt.Fprintf(&b, "Size: %s\n", msg.Size)
	}
	if msg.ItemCount != nil {
		fmt.Fprintf(&b, "Items: %d\n", *msg.ItemCount)
	}
	if msg.DurationSeconds != nil {
		fmt.Fprintf(&b, "Duration: %.1fs\n", *msg.DurationSeconds)
	}
	if msg.ErrorMessage != nil {
		fmt.Fprintf(&b, "Error: %s\n", *msg.ErrorMessage)
	}
	return b.String()
}

// ValidateTemplate reports whether a config template parses.
func ValidateTemplate(text string) error {
	if text == "" {
		return nil
	}
	_, err := template.New("notification").Option("missingkey=error").Parse(text)
	return err
}

// render replaces the message body with the config's template output.
func render(cfg *domain.NotificationConfig, msg domain.NotificationMessage) (domain.NotificationMessage, error) {
	if cfg.Template == "" {
		return msg, nil
	}
	tmpl, err := template.New("notification").Option("missingkey=error").Parse(cfg.Template)
	if err != nil {
		return msg, fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, msg); err != nil {
		return msg, fmt.Errorf("failed to render template: %w", err)
	}
	msg.Message = buf.String()
	return msg, nil
}
