package telemetra

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryerSucceedsAfterFailures(t *testing.T) {
	r := NewRetryer(fastRetryConfig(5))
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	r := NewRetryer(fastRetryConfig(3))
	wantErr := errors.New("persistent")
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryerRespectsContextCancel(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestNewRetryerFillsDefaults(t *testing.T) {
	r := NewRetryer(RetryConfig{})
	def := DefaultRetryConfig()
	if r.config.MaxAttempts != def.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", r.config.MaxAttempts, def.MaxAttempts)
	}
	if r.config.InitialBackoff != def.InitialBackoff {
		t.Errorf("InitialBackoff = %v, want %v", r.config.InitialBackoff, def.InitialBackoff)
	}
}

func TestBackoffCappedAtMax(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    time.Second,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 10,
		Jitter:            0,
	})
	if d := r.backoff(5); d > 2*time.Second {
		t.Errorf("backoff(5) = %v, want <= 2s", d)
	}
}
