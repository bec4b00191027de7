// Package retry provides retry policies with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/bardlex/oreminer/pkg/errors"
)

// Config holds a retry policy. MaxAttempts of zero means no limit.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

// DefaultConfig returns a general purpose policy
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// NetworkConfig returns a policy tuned for ledger RPC reads
func NetworkConfig() *Config {
	return &Config{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  1.5,
		Jitter:      true,
	}
}

// SubmissionConfig returns the policy used for mine transactions: retry on the
// next bus forever with no delay between attempts.
func SubmissionConfig() *Config {
	return &Config{
		MaxAttempts: 0,
		BaseDelay:   0,
		MaxDelay:    0,
		Multiplier:  1.0,
		Jitter:      false,
	}
}

// Unlimited reports whether the policy never gives up
func (c *Config) Unlimited() bool {
	return c.MaxAttempts <= 0
}

// Exhausted reports whether attempts (already made) has used up the policy
func (c *Config) Exhausted(attempts int) bool {
	return !c.Unlimited() && attempts >= c.MaxAttempts
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Do executes fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted.
func Do(ctx context.Context, config *Config, fn RetryableFunc) error {
	_, err := DoWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value
func DoWithResult[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if config == nil {
		config = DefaultConfig()
	}

	for attempt := 0; ; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}

		if config.Exhausted(attempt + 1) {
			break
		}

		if err := Wait(ctx, config.Delay(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, errors.Wrap(lastErr, errors.ErrorTypeInternal, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts)
}

// Delay returns the backoff before the attempt following attempt (zero based)
func (c *Config) Delay(attempt int) time.Duration {
	if c.BaseDelay <= 0 {
		return 0
	}

	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if c.MaxDelay > 0 {
		delay = min(delay, float64(c.MaxDelay))
	}

	if c.Jitter {
		// up to 10% extra
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}

// Wait sleeps for d or until ctx is done. A non-positive d only checks ctx.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
