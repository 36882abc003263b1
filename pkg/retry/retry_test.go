package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		if attempts < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("err = %v, want %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), testConfig(), func() error {
		attempts++
		return Retryable(errors.New("still down"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, Config{MaxAttempts: 10, InitialWait: 50 * time.Millisecond, MaxWait: time.Second, Multiplier: 2.0}, func() error {
		attempts++
		cancel()
		return Retryable(errors.New("transient"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), testConfig(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", Retryable(errors.New("transient"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want %q", got, "ok")
	}
}

func TestIsRetryable_Wrapped(t *testing.T) {
	inner := errors.New("io timeout")
	err := fmt.Errorf("list files: %w", Retryable(inner))
	if !IsRetryable(err) {
		t.Error("wrapped RetryableError not detected")
	}
	if !errors.Is(err, inner) {
		t.Error("inner error lost through Retryable wrapper")
	}
	if IsRetryable(inner) {
		t.Error("plain error reported retryable")
	}
}
