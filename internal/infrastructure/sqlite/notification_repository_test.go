package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/repository"
)

func TestNotificationConfigAndLogs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewNotificationRepository(db)
	s := createSchedule(t, db, "nightly")

	cfg := domain.NewNotificationConfig(s.ID, domain.ChannelEmail)
	cfg.Recipients = []string{"ops@example.com"}
	require.NoError(t, repo.CreateConfig(ctx, cfg))

	cfg.MaxPerHour = 2
	require.NoError(t, repo.UpdateConfig(ctx, cfg))

	configs, err := repo.ListConfigs(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, 2, configs[0].MaxPerHour)
	assert.Equal(t, []string{"ops@example.com"}, configs[0].Recipients)

	base := time.Now().UTC()
	for i, outcome := range []domain.NotificationOutcome{domain.OutcomeSent, domain.OutcomeThrottled, domain.OutcomeFailed} {
		entry := &domain.NotificationLog{
			ConfigID:   cfg.ID,
			ScheduleID: s.ID,
			Event:      domain.EventFailure,
			Outcome:    outcome,
			CreatedAt:  base.Add(-time.Duration(i*40) * time.Minute),
		}
		require.NoError(t, repo.CreateLog(ctx, entry))
	}

	recent, err := repo.RecentLogs(ctx, cfg.ID, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, domain.OutcomeSent, recent[0].Outcome)

	count, err := repo.CountLogs(ctx, repository.NotificationLogFilter{ScheduleID: &s.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, repo.DeleteConfig(ctx, cfg.ID))
	_, err = repo.FindConfigByID(ctx, cfg.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
