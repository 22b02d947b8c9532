package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loykin/dbmigrate/internal/common"
)

// Config holds configuration for database operation retries
type Config struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialDelay    time.Duration // Initial delay before first retry
	MaxDelay        time.Duration // Maximum delay between retries
	BackoffFactor   float64       // Multiplier for exponential backoff
	RetryableErrors []string      // Error strings that trigger retries
	// Retryable, when set, is consulted before RetryableErrors (e.g. a dialect's
	// SQLSTATE classification).
	Retryable func(error) bool
	Logger    *common.Logger
}

// DefaultRetryConfig is used for ledger DDL, where a concurrent writer holding the
// database briefly is expected.
func DefaultRetryConfig() *Config {
	return &Config{
		MaxRetries:    5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []string{
			"connection refused",
			"connection reset",
			"temporary failure",
			"deadlock",
			"database is locked",
			"database table is locked",
			"connection lost",
			"broken pipe",
		},
	}
}

// LockAcquireConfig retries lock acquisition only on errors that say nothing about
// the lock holder. Lock wait timeouts are not retried: they surface to the migrator.
func LockAcquireConfig() *Config {
	return &Config{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []string{
			"deadlock",
			"connection reset",
			"connection refused",
			"broken pipe",
		},
	}
}

// isRetryableError checks if an error should trigger a retry
func (rc *Config) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if rc.Retryable != nil && rc.Retryable(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, retryableErr := range rc.RetryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}
	return false
}

// calculateDelay calculates the delay for a given retry attempt using exponential backoff
func (rc *Config) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return rc.InitialDelay
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.BackoffFactor, float64(attempt-1)))
	if delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	return delay
}

func (rc *Config) logger() *common.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return common.GetLogger().WithComponent("retry")
}

// Operation is a database operation that can be retried
type Operation func() error

// WithRetry executes operation until it succeeds, fails with a non-retryable error,
// exhausts the configured attempts or ctx is done.
func WithRetry(ctx context.Context, config *Config, operation Operation) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	logger := config.logger()

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("database operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !config.isRetryableError(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}

		delay := config.calculateDelay(attempt)
		logger.Warn("database operation failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", config.MaxRetries+1,
			"retry_delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	logger.Error("database operation failed after all retry attempts",
		"error", lastErr,
		"attempts", config.MaxRetries+1)

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// Do is WithRetry for operations producing a value.
func Do[T any](ctx context.Context, config *Config, op func() (T, error)) (T, error) {
	var out T
	err := WithRetry(ctx, config, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
