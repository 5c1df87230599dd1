// Package webhook posts notification messages as JSON.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/martijn/snapkeep/internal/core/domain"
	"github.com/martijn/snapkeep/internal/core/notify"
	"github.com/martijn/snapkeep/pkg/config"
)

const userAgent = "snapkeep-webhook/1"

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.Code)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.Code, e.Body)
}

// Sender delivers webhooks with retries on transport errors and 5xx/429
// responses. Outbound requests share one rate limit.
type Sender struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxElapsed time.Duration
	initial    time.Duration
	logger     *zap.Logger
}

var _ notify.WebhookSender = (*Sender)(nil)

func New(cfg config.WebhookConfig, logger *zap.Logger) *Sender {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Sender{
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxElapsed: maxElapsed,
		initial:    500 * time.Millisecond,
		logger:     logger.Named("webhook"),
	}
}

func (s *Sender) SendWebhook(ctx context.Context, url string, msg domain.NotificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initial
	bo.MaxElapsedTime = s.maxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := s.post(ctx, url, payload)
		if err == nil {
			return nil
		}
		if se, ok := err.(*StatusError); ok && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notifyRetry := func(err error, d time.Duration) {
		s.logger.Warn("webhook delivery failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", d),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notifyRetry); err != nil {
		return unwrapPermanent(err)
	}
	return nil
}

func (s *Sender) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func unwrapPermanent(err error) error {
	if p, ok := err.(*backoff.PermanentError); ok {
		return p.Err
	}
	return err
}
