package mailer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/pkg/config"
)

func TestNewWithoutHost(t *testing.T) {
	assert.Nil(t, New(config.SMTPConfig{}))
}

func TestBuildMessage(t *testing.T) {
	m := New(config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "snapkeep@example.com", TLS: "starttls"})
	require.NotNil(t, m)

	message, err := m.buildMessage([]string{"ops@example.com"}, domain.NotificationMessage{
		Subject: "[snapkeep] Backup failed: nightly",
		Message: "Schedule: nightly (#1)\n",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = message.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "ops@example.com")
	assert.Contains(t, raw, "snapkeep@example.com")
	assert.Contains(t, raw, "Backup failed: nightly")
	assert.Contains(t, raw, "Schedule: nightly (#1)")
}

func TestBuildMessageRejectsBadInput(t *testing.T) {
	m := New(config.SMTPConfig{Host: "smtp.example.com", From: "snapkeep@example.com"})

	_, err := m.buildMessage(nil, domain.NotificationMessage{})
	assert.Error(t, err)
	_, err = m.buildMessage([]string{"not an address"}, domain.NotificationMessage{})
	assert.Error(t, err)

	bad := New(config.SMTPConfig{Host: "smtp.example.com", From: "nobody"})
	_, err = bad.buildMessage([]string{"ops@example.com"}, domain.NotificationMessage{})
	assert.Error(t, err)
}
