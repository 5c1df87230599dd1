package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/pkg/config"
)

func newTestSender(maxElapsed time.Duration) *Sender {
	s := New(config.WebhookConfig{Timeout: time.Second, MaxElapsed: maxElapsed, RatePerSec: 100}, zap.NewNop())
	s.initial = 10 * time.Millisecond
	return s
}

func TestSendWebhookPostsJSON(t *testing.T) {
	var got domain.NotificationMessage
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	msg := domain.NotificationMessage{Event: domain.EventFailure, Subject: "Backup failed", ScheduleID: 4, ScheduleName: "nightly"}
	require.NoError(t, newTestSender(time.Second).SendWebhook(context.Background(), server.URL, msg))
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, domain.EventFailure, got.Event)
	assert.Equal(t, "nightly", got.ScheduleName)
}

func TestSendWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, newTestSender(5*time.Second).SendWebhook(context.Background(), server.URL, domain.NotificationMessage{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendWebhookClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer server.Close()

	err := newTestSender(5*time.Second).SendWebhook(context.Background(), server.URL, domain.NotificationMessage{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "got %v", err)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, "no such hook", statusErr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendWebhookGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	start := time.Now()
	err := newTestSender(200*time.Millisecond).SendWebhook(context.Background(), server.URL, domain.NotificationMessage{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
