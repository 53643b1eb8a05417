package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts for DoWithContext
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier, 1 keeps the delay fixed
	Jitter       bool          // Whether to add jitter to delays
}

// DefaultConfig returns default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   1.0,
		Jitter:       false,
	}
}

// OperationWithContext is a function with context that can be retried
type OperationWithContext func(ctx context.Context) error

// IsRetryable checks if an error should be retried
type IsRetryable func(error) bool

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsCancellation reports whether err stems from context cancellation.
// Cancellation is a state transition, never a failed attempt.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// DoWithContext executes an operation with context and retry logic
func DoWithContext(ctx context.Context, op OperationWithContext, config *Config) error {
	return DoWithContextAndRetryable(ctx, op, config, func(err error) bool { return !IsPermanent(err) })
}

// DoWithContextAndRetryable executes an operation with context and custom retry logic
func DoWithContextAndRetryable(ctx context.Context, op OperationWithContext, config *Config, isRetryable IsRetryable) error {
	if config == nil {
		config = DefaultConfig()
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		// Check if context is cancelled
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		// Check if error is retryable
		if !isRetryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		// Don't retry if this is the last attempt
		if attempt == config.MaxAttempts-1 {
			break
		}

		if err := Wait(ctx, calculateDelay(config.InitialDelay, attempt, config)); err != nil {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}

// Wait sleeps for d or until ctx is done
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateDelay calculates the delay for the next retry attempt
func calculateDelay(base time.Duration, attempt int, config *Config) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	// Calculate exponential backoff
	delay := float64(base) * math.Pow(multiplier, float64(attempt))

	// Cap at maximum delay
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	// Add jitter if enabled
	if config.Jitter {
		// Add random jitter up to 25% of the delay
		jitter := delay * 0.25 * rand.Float64()
		delay += jitter
	}

	return time.Duration(delay)
}

// Decision is the outcome of a failed executor attempt
type Decision struct {
	Requeue bool          // false means the operation settles in Failed
	Attempt int           // retry count after this decision
	Delay   time.Duration // wait before the operation may be dispatched again
	Reason  string
}

// Controller decides whether a failed operation is requeued or failed.
// Delays start at the operation's own retry delay and grow by the configured
// multiplier; with the default multiplier of 1 the delay stays fixed.
type Controller struct {
	config *Config
}

// NewController creates a retry controller
func NewController(config *Config) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	return &Controller{config: config}
}

// Decide classifies err for an operation that has already been retried
// retryCount times out of a budget of maxRetries.
func (c *Controller) Decide(retryCount, maxRetries int, retryDelay time.Duration, err error) Decision {
	if IsPermanent(err) {
		return Decision{Requeue: false, Attempt: retryCount, Reason: "permanent error"}
	}
	if retryCount >= maxRetries {
		return Decision{Requeue: false, Attempt: retryCount, Reason: "retry budget exhausted"}
	}
	return Decision{
		Requeue: true,
		Attempt: retryCount + 1,
		Delay:   calculateDelay(retryDelay, retryCount, c.config),
		Reason:  "transient error",
	}
}
