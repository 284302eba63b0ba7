package telemetra

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures backoff for background lifecycle work.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries. Default: 30s.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay after each retry. Default: 2.0.
	BackoffMultiplier float64

	// Jitter randomizes each delay by ±Jitter fraction. Default: 0.1.
	Jitter float64
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Retryer performs operations with automatic retry on failure.
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a retryer, filling zero config fields with defaults.
func NewRetryer(config RetryConfig) *Retryer {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = def.Jitter
	}
	return &Retryer{config: config}
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (r *Retryer) backoff(attempt int) time.Duration {
	d := float64(r.config.InitialBackoff) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if d > float64(r.config.MaxBackoff) {
		d = float64(r.config.MaxBackoff)
	}
	if r.config.Jitter > 0 {
		d += d * r.config.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
