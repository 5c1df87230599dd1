package notify

import (
	"fmt"
	"time"

	"github.com/martijn/snapkeep/internal/core/domain"
)

const capWindow = time.Hour

// HistoryWindow is how far back MayNotify needs to see a config's log.
func HistoryWindow(cfg *domain.NotificationConfig) time.Duration {
	silence := time.Duration(cfg.SilenceMinutes) * time.Minute
	if silence > capWindow {
		return silence
	}
	return capWindow
}

// MayNotify applies the hourly cap and the silence window to a config's
// recent log. Throttled rows are ignored by both gates so that recording a
// denial never extends the denial.
func MayNotify(cfg *domain.NotificationConfig, history []*domain.NotificationLog, now time.Time) (bool, string) {
	windowStart := now.Add(-capWindow)
	sent := 0
	var last time.Time

	for _, entry := range history {
		if entry.ConfigID != cfg.ID || entry.Outcome == domain.OutcomeThrottled {
			continue
		}
		if entry.CreatedAt.After(last) {
			last = entry.CreatedAt
		}
		if entry.Outcome == domain.OutcomeSent && entry.CreatedAt.After(windowStart) {
			sent++
		}
	}

	if sent >= cfg.MaxPerHour {
		return false, fmt.Sprintf("hourly cap reached (%d of %d sent in the last hour)", sent, cfg.MaxPerHour)
	}

	if cfg.SilenceMinutes > 0 && !last.IsZero() {
		until := last.Add(time.Duration(cfg.SilenceMinutes) * time.Minute)
		if now.Before(until) {
			return false, fmt.Sprintf("silenced until %s", until.UTC().Format(time.RFC3339))
		}
	}

	return true, ""
}
