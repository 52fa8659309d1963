package retry

import (
	"context"
	"testing"
	"time"

	"github.com/coldpack/coldpack/pkg/errors"
)

func TestRetryer_Success(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_TransientError(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	retryer := New(config)

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.ErrCodeIOWrite, "disk hiccup")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_PermanentErrorNoRetry(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	retryer := New(config)

	attempts := 0
	start := time.Now()
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.ErrCodeInputEmpty, "file is empty")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
	// Permanent failures must not sleep at all.
	if elapsed := time.Since(start); elapsed > 2*time.Millisecond {
		t.Errorf("Permanent failure slept for %v", elapsed)
	}
}

func TestRetryer_IntegrityErrorNoRetry(t *testing.T) {
	retryer := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.New(errors.ErrCodeIntegrityMismatch, "checksum mismatch")
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 5 * time.Millisecond
	retryer := New(config)

	attempts := 0
	transient := errors.New(errors.ErrCodeIORead, "read failed")
	err := retryer.Do(func() error {
		attempts++
		return transient
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	// The last transient error is surfaced, not a wrapper.
	if errors.CodeOf(err) != errors.ErrCodeIORead {
		t.Errorf("Expected IO_READ as final error, got %v", err)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	config := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2.0,
	}
	retryer := New(config)

	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}
	retryer = New(config)

	_ = retryer.Do(func() error {
		return errors.New(errors.ErrCodeIOWrite, "always fails")
	})

	if len(delays) != 3 {
		t.Fatalf("Expected 3 retry delays, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] != delays[i-1]*2 {
			t.Errorf("Expected delay to double: %v then %v", delays[i-1], delays[i])
		}
	}
}

func TestRetryer_MaxDelayCap(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     15 * time.Millisecond,
		Multiplier:   10.0,
	}

	var maxSeen time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		if delay > maxSeen {
			maxSeen = delay
		}
	}
	retryer := New(config)

	_ = retryer.Do(func() error {
		return errors.New(errors.ErrCodeIOWrite, "always fails")
	})

	if maxSeen > 15*time.Millisecond {
		t.Errorf("Delay exceeded cap: %v", maxSeen)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := Config{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond}
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New(errors.ErrCodeIOWrite, "transient")
	})

	if err == nil {
		t.Error("Expected cancellation error")
	}
	if attempts >= 10 {
		t.Errorf("Cancellation did not stop retries, got %d attempts", attempts)
	}
}

func TestRetryer_ForeignErrorNoRetry(t *testing.T) {
	retryer := New(Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return context.DeadlineExceeded
	})

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Unclassified errors must not retry, got %d attempts", attempts)
	}
}
