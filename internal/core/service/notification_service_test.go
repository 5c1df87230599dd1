package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/infrastructure/sqlite"
)

func TestNotificationConfigLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewNotificationService(sqlite.NewNotificationRepository(env.db), env.schedules)
	s := env.createSchedule(t, "nightly")

	cfg := domain.NewNotificationConfig(s.ID, domain.ChannelEmail)
	cfg.Recipients = []string{"ops@example.com"}
	require.NoError(t, svc.CreateConfig(ctx, cfg))
	assert.NotZero(t, cfg.ID)

	onSuccess := true
	updated, err := svc.UpdateConfig(ctx, cfg.ID, domain.NotificationConfigPatch{OnSuccess: &onSuccess})
	require.NoError(t, err)
	assert.True(t, updated.OnSuccess)

	configs, err := svc.ListConfigs(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.True(t, configs[0].OnSuccess)

	require.NoError(t, svc.DeleteConfig(ctx, cfg.ID))
	_, err = svc.GetConfig(ctx, cfg.ID)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(svc.DeleteConfig(ctx, cfg.ID)))
}

func TestNotificationConfigValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewNotificationService(sqlite.NewNotificationRepository(env.db), env.schedules)
	s := env.createSchedule(t, "nightly")

	tests := []struct {
		name   string
		kind   domain.ChannelKind
		mutate func(c *domain.NotificationConfig)
	}{
		{"email without recipients", domain.ChannelEmail, func(c *domain.NotificationConfig) {}},
		{"bad recipient", domain.ChannelEmail, func(c *domain.NotificationConfig) { c.Recipients = []string{"not an address"} }},
		{"webhook without scheme", domain.ChannelWebhook, func(c *domain.NotificationConfig) { c.WebhookURL = "example.com/hook" }},
		{"unknown kind", "pager", func(c *domain.NotificationConfig) {}},
		{"zero rate", domain.ChannelWebhook, func(c *domain.NotificationConfig) {
			c.WebhookURL = "https://example.com/hook"
			c.MaxPerHour = 0
		}},
		{"broken template", domain.ChannelWebhook, func(c *domain.NotificationConfig) {
			c.WebhookURL = "https://example.com/hook"
			c.Template = "{{ .Subject"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.NewNotificationConfig(s.ID, tt.kind)
			tt.mutate(cfg)
			assert.True(t, IsValidation(svc.CreateConfig(ctx, cfg)))
		})
	}

	orphan := domain.NewNotificationConfig(999, domain.ChannelWebhook)
	orphan.WebhookURL = "https://example.com/hook"
	assert.True(t, IsNotFound(svc.CreateConfig(ctx, orphan)))
}
