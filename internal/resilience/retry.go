package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls how many times a call is attempted and how long to wait between attempts.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// NewBackOff overrides the exponential delay function when set.
	NewBackOff func() backoff.BackOff
	// Retryable decides whether a failed attempt is tried again. Defaults to DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns three attempts with exponential backoff starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Retryable:       DefaultRetryable,
	}
}

func (c RetryConfig) backOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	bo := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		bo.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		bo.MaxInterval = c.MaxInterval
	}
	if c.Multiplier > 0 {
		bo.Multiplier = c.Multiplier
	}
	// attempts bound the loop, not elapsed time
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// RetryNotify is called before each wait with the error, the delay and the attempt that failed.
type RetryNotify func(err error, wait time.Duration, attempt int)

// Retry runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done. The last error is returned unwrapped.
func Retry(ctx context.Context, cfg RetryConfig, notify RetryNotify, fn func(context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(cfg.backOff(), uint64(attempts-1)), ctx)
	return backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, wait, attempt)
		}
	})
}
