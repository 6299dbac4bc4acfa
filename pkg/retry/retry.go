// Package retry provides exponential backoff shared by the inference client and the store.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `json:"max_attempts"`   // including the initial attempt
	InitialDelay  time.Duration `json:"initial_delay"`  // delay before the first retry
	MaxDelay      time.Duration `json:"max_delay"`      // cap between retries
	BackoffFactor float64       `json:"backoff_factor"` // multiplier per attempt
	Jitter        bool          `json:"jitter"`         // +/-10% randomization
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// Policy encapsulates retry configuration and the retryability decision.
//
//nolint:govet // Simple struct, logical grouping preferred
type Policy struct {
	Config     Config
	Classifier Classifier
}

// ExhaustedError is returned by Do when every attempt failed with a retryable error.
type ExhaustedError struct {
	Err      error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// NewPolicy creates a retry policy. A nil classifier retries nothing.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = func(error) bool { return false }
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Policy{Config: config, Classifier: classifier}
}

// CalculateDelay computes the delay before the given attempt number (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		//nolint:gosec // jitter does not need a cryptographic source
		jitter := time.Duration(float64(delay) * 0.1 * (rand.Float64()*2 - 1))
		delay += jitter
	}
	return delay
}

// ShouldRetry reports whether err is worth another attempt.
func (p *Policy) ShouldRetry(err error) bool {
	return err != nil && p.Classifier(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// Exhausting attempts on a retryable error yields an *ExhaustedError.
func Do[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		if delay := p.CalculateDelay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.ShouldRetry(err) {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Err: lastErr, Attempts: p.Config.MaxAttempts}
}
