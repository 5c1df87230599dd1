package service

import (
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

type RetryStrategy string

const (
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

func ParseRetryStrategy(s string) (RetryStrategy, error) {
	switch RetryStrategy(s) {
	case "", RetryLinear:
		return RetryLinear, nil
	case RetryExponential:
		return RetryExponential, nil
	}
	return "", fmt.Errorf("unknown retry strategy %q (expected linear or exponential)", s)
}

// RetryPolicy computes the wait before a retry. Max caps both strategies
// when set.
type RetryPolicy struct {
	Strategy RetryStrategy
	Base     time.Duration
	Max      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Strategy: RetryLinear, Base: time.Minute, Max: 30 * time.Minute}
}

// Delay returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Strategy {
	case RetryExponential:
		b := &backoff.Backoff{Min: p.Base, Max: p.Max, Factor: 2}
		if p.Max <= 0 {
			b.Max = p.Base << 10
		}
		d = b.ForAttempt(float64(attempt - 1))
	default:
		d = time.Duration(attempt) * p.Base
	}

	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
