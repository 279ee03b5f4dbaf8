// Package retry provides utilities for retrying operations that may fail due
// to transient errors, and the backoff policy shared with the connection
// watchdog.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Config holds configuration for retry operations
type Config struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// InitialDelay is the initial delay between retries
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases after each retry
	Multiplier float64

	// Jitter is the maximum random jitter added to the delay, as a fraction
	// of the computed delay
	Jitter float64

	// RetryableErrors is a list of error predicates that should be retried
	RetryableErrors []RetryableError
}

// RetryableError defines a function that determines if an error should be retried
type RetryableError func(error) bool

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableErrors: []RetryableError{
			errors.IsNetworkError,
			errors.IsOperationError,
			errors.IsResourceBusyError,
		},
	}
}

// Delay computes the backoff delay for the given zero-based attempt number:
// InitialDelay * Multiplier^attempt, capped at MaxDelay, plus a random
// jitter of up to Jitter*delay. The jitter is strictly positive whenever
// Jitter is.
func (c Config) Delay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if ceiling := float64(c.MaxDelay); delay > ceiling {
		delay = ceiling
	}
	if c.Jitter > 0 {
		// rand.Float64 can return 0; shift into (0, 1] so jitter never
		// collapses to nothing
		delay += (1 - rand.Float64()) * c.Jitter * delay
	}
	if capped := c.MaxDelay + time.Duration(c.Jitter*float64(c.MaxDelay)); time.Duration(delay) > capped {
		return capped
	}
	return time.Duration(delay)
}

// Do retries the given function with exponential backoff
func Do(ctx context.Context, op RetryableFunc, config Config) error {
	var err error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		shouldRetry := false
		for _, retryable := range config.RetryableErrors {
			if retryable(err) {
				shouldRetry = true
				break
			}
		}

		if !shouldRetry || attempt == config.MaxRetries {
			return err
		}

		delay := config.Delay(attempt)
		logging.Info().
			Err(err).
			Int("attempt", attempt+1).
			Int("maxRetries", config.MaxRetries).
			Dur("delay", delay).
			Msg("Operation failed, retrying after delay")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry canceled by context")
		}
	}
	return err
}
