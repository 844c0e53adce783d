package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shortform/internal/pkg/errors"
	"shortform/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json"})
}

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), testLogger(), "op", fastPolicy(3),
		func(ctx context.Context) error {
			calls++
			return nil
		}, errors.IsRetryable)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1/1", calls, attempts)
	}
}

func TestDoRetryBound(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), testLogger(), "op", fastPolicy(3),
		func(ctx context.Context) error {
			calls++
			return errors.ServiceError("backend", "always failing")
		}, errors.IsRetryable)

	if calls != 3 {
		t.Errorf("operation invoked %d times, want exactly 3", calls)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if err == nil {
		t.Fatal("expected error")
	}
	if !Exhausted(err) {
		t.Error("final error should be tagged exhausted")
	}
	if !errors.IsCode(err, errors.CodeServiceError) {
		t.Errorf("underlying code = %s, want SERVICE_ERROR", errors.GetCode(err))
	}
}

func TestDoFatalStopsImmediately(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), testLogger(), "op", fastPolicy(5),
		func(ctx context.Context) error {
			calls++
			return errors.QuotaExceeded("youtube", "daily limit")
		}, errors.IsRetryable)

	if calls != 1 || attempts != 1 {
		t.Errorf("calls=%d attempts=%d, want 1/1 for fatal error", calls, attempts)
	}
	if Exhausted(err) {
		t.Error("fatal error must not be tagged exhausted")
	}
	if !errors.IsCode(err, errors.CodeQuotaExceeded) {
		t.Errorf("code = %s, want QUOTA_EXCEEDED", errors.GetCode(err))
	}
}

func TestDoRecovers(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), testLogger(), "op", fastPolicy(3),
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.ServiceError("backend", "flaky")
			}
			return nil
		}, errors.IsRetryable)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{MaxAttempts: 3, BaseDelay: time.Minute, Multiplier: 2}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, testLogger(), "op", p,
		func(ctx context.Context) error {
			return errors.ServiceError("backend", "fail")
		}, errors.IsRetryable)

	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation should interrupt the backoff sleep")
	}
}

func TestDelayGrowth(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{6, 60 * time.Second}, // 64s capped
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExhaustedUnwraps(t *testing.T) {
	inner := errors.ServiceError("backend", "boom")
	err := fmt.Errorf("stage media: %w", &exhaustedError{attempts: 3, err: inner})

	if !Exhausted(err) {
		t.Error("Exhausted should see through wrapping")
	}
	if Exhausted(inner) {
		t.Error("plain error is not exhausted")
	}
}
