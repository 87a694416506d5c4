package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy decides whether a failed round trip is retried and how long
// to wait before the next attempt.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	MaxAttempts int
}

// DefaultBackoff mirrors the pacing used against the results site.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.5,
		MaxAttempts: 3,
	}
}

// NoBackoff performs a single attempt with no delay.
func NoBackoff() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 1}
}

// Attempts returns the total number of tries allowed, at least one.
func (p BackoffPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// ShouldRetry reports whether err after `attempt` tries warrants another one.
// Malformed payloads are deterministic and never retried.
func (p BackoffPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.Attempts() {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled) {
		return false
	}
	if errors.Is(err, ErrTaskMalformed) {
		return false
	}
	return errors.Is(err, ErrTaskNetwork) || errors.Is(err, ErrTaskTimeout)
}

// Backoff returns the wait duration before attempt+1.
func (p BackoffPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	jitter := p.Jitter
	if jitter <= 0 {
		return time.Duration(delay)
	}
	if jitter > 1 {
		jitter = 1
	}
	spread := time.Duration(delay * jitter)
	return time.Duration(delay) - spread + randomJitter(spread)
}

// Wait sleeps for the backoff of attempt or until ctx ends.
func (p BackoffPolicy) Wait(ctx context.Context, attempt int) error {
	delay := p.Backoff(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
