package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls exponential backoff between attempts
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns the backoff used for upstream platform calls
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// RetryAfterError is implemented by errors that carry a server-provided
// wait hint, such as a 429 with a Retry-After header.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Backoff retries an operation with exponential delay and optional jitter
type Backoff struct {
	config BackoffConfig
}

func NewBackoff(config BackoffConfig) *Backoff {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.MaxDelay > 0 && config.InitialDelay > config.MaxDelay {
		config.InitialDelay = config.MaxDelay
	}
	return &Backoff{config: config}
}

// Retry retries every error until MaxAttempts is reached
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate retries while isRetryable reports true for the returned
// error. The last error is returned once attempts are exhausted; a cancelled
// context returns ctx.Err().
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error
	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == b.config.MaxAttempts {
			return lastErr
		}

		if err := sleep(ctx, b.delayFor(attempt, lastErr)); err != nil {
			return err
		}
	}
	return lastErr
}

// GetNextDelay returns the delay that follows the given attempt
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.calculateDelay(attempt)
}

func (b *Backoff) delayFor(attempt int, err error) time.Duration {
	delay := b.calculateDelay(attempt)
	var hinted RetryAfterError
	if errors.As(err, &hinted) {
		if hint := hinted.RetryAfter(); hint > delay {
			delay = hint
		}
		if b.config.MaxDelay > 0 && delay > b.config.MaxDelay {
			delay = b.config.MaxDelay
		}
	}
	return delay
}

func (b *Backoff) calculateDelay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= b.config.Multiplier
		if b.config.MaxDelay > 0 && delay >= float64(b.config.MaxDelay) {
			break
		}
	}

	maxDelay := float64(b.config.MaxDelay)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	// +/-25%
	if b.config.Jitter {
		delay += (rand.Float64() - 0.5) * 0.5 * delay
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
