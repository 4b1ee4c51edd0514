package rpcutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
)

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestWithRetry_RetriesTransientError(t *testing.T) {
	calls := 0
	result, err := WithRetryCustom(context.Background(), retryConfig{maxRetries: 3, baseDelay: time.Millisecond}, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want ok", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_DoesNotRetryNotFound(t *testing.T) {
	calls := 0
	_, err := WithRetryCustom(context.Background(), retryConfig{maxRetries: 3, baseDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, ethereum.NotFound
	})
	if !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("expected ethereum.NotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (not found must not be retried)", calls)
	}
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	transient := errors.New("gateway timeout")
	_, err := WithRetryCustom(context.Background(), retryConfig{maxRetries: 2, baseDelay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected final error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial attempt + 2 retries)", calls)
	}
}

func TestWithRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithRetryCustom(ctx, retryConfig{maxRetries: 5, baseDelay: 50 * time.Millisecond}, func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("connection reset")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ethereum.NotFound, false},
		{errors.New("connection refused"), true},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("execution reverted"), false},
		{errors.New("invalid argument"), false},
	}
	for _, tt := range tests {
		if got := IsRetryableError(tt.err); got != tt.want {
			t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
