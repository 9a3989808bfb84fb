package httpx

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

// Retry defaults. All of these are configurable; treat the constants as the
// one consistent default set, not policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultMaxJitter   = time.Second
)

// RetryPolicy decides whether a failed call is retried and how long to wait
// before the next attempt. Delay computation is pure apart from the jitter
// source; Wait performs the actual suspension.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int

	// BaseDelay is the first backoff step; attempt n waits BaseDelay * 2^n.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// MaxJitter is the upper bound of the random addition spread across
	// concurrent clients so their retries don't land in lockstep.
	MaxJitter time.Duration
}

// DefaultRetryPolicy returns the default policy (3 attempts, 500ms base,
// 10s cap, up to 1s jitter).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxJitter:   DefaultMaxJitter,
	}
}

// ShouldRetry reports whether a call that failed with err on the given
// zero-based attempt should be tried again.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt+1 >= p.MaxAttempts {
		return false
	}

	var herr *Error
	if !errors.As(err, &herr) {
		return false
	}
	return herr.Retryable()
}

// Delay computes the backoff before the given zero-based attempt's retry:
// min(BaseDelay * 2^attempt, MaxDelay) plus random jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	if p.MaxJitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(p.MaxJitter))); err == nil {
			delay += time.Duration(n.Int64())
		}
	}
	return delay
}

// Wait suspends the caller for Delay(attempt), returning early with the
// context's error if it is cancelled first.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
