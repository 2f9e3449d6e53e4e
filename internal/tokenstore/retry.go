package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"socialhub/internal/constants"
	"socialhub/internal/retry"
)

// retryableDBOperation retries transient database failures with backoff
func retryableDBOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond / 10,
		MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond / 60,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err := backoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err != nil {
		return fmt.Errorf("%s failed: %w", operationName, err)
	}
	return nil
}

// isRetryableDBError reports whether a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "disk I/O error"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset by peer"),
		strings.Contains(msg, "no such host"):
		return true
	}
	return false
}
