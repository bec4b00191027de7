package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	oreErrors "github.com/bardlex/oreminer/pkg/errors"
)

func TestSubmissionConfig(t *testing.T) {
	config := SubmissionConfig()

	if !config.Unlimited() {
		t.Error("Expected submission policy to be unlimited")
	}

	if config.Exhausted(1_000_000) {
		t.Error("Unlimited policy should never be exhausted")
	}

	for attempt := range 5 {
		if d := config.Delay(attempt); d != 0 {
			t.Errorf("Delay(%d) = %v, want 0", attempt, d)
		}
	}
}

func TestConfig_Exhausted(t *testing.T) {
	config := &Config{MaxAttempts: 3}

	tests := []struct {
		attempts int
		want     bool
	}{
		{0, false},
		{2, false},
		{3, true},
		{4, true},
	}

	for _, tt := range tests {
		if got := config.Exhausted(tt.attempts); got != tt.want {
			t.Errorf("Exhausted(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestConfig_Delay(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
		Jitter:     false,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1 * time.Second},
		{10, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := config.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestConfig_DelayJitter(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}

	for range 20 {
		d := config.Delay(0)
		if d < 100*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("Delay with jitter out of range: %v", d)
		}
	}
}

func TestDo_Success(t *testing.T) {
	config := &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
	}

	callCount := 0
	err := Do(context.Background(), config, func() error {
		callCount++
		if callCount == 1 {
			return oreErrors.New(oreErrors.ErrorTypeNetwork, "get_clock", "retryable error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	config := &Config{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
	}

	callCount := 0
	err := Do(context.Background(), config, func() error {
		callCount++
		return oreErrors.New(oreErrors.ErrorTypeNetwork, "get_clock", "persistent error")
	})
	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
	if !oreErrors.IsType(err, oreErrors.ErrorTypeInternal) {
		t.Error("Expected wrapped error to be internal type")
	}
	if !oreErrors.IsType(err, oreErrors.ErrorTypeNetwork) {
		t.Error("Expected cause to stay visible in the chain")
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		callCount++
		return oreErrors.New(oreErrors.ErrorTypeValidation, "decode", "bad account data")
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call for non-retryable error, got %d", callCount)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{
		MaxAttempts: 10,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}

	callCount := 0
	err := Do(ctx, config, func() error {
		callCount++
		cancel()
		return oreErrors.New(oreErrors.ErrorTypeNetwork, "get_clock", "retryable error")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestDoWithResult(t *testing.T) {
	config := &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}

	callCount := 0
	got, err := DoWithResult(context.Background(), config, func() (int64, error) {
		callCount++
		if callCount < 3 {
			return 0, errors.New("read tcp: i/o timeout")
		}
		return 1650, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if got != 1650 {
		t.Errorf("DoWithResult() = %d, want 1650", got)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestWait(t *testing.T) {
	if err := Wait(context.Background(), 0); err != nil {
		t.Errorf("Wait(0) = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait on cancelled context = %v, want context.Canceled", err)
	}
}
