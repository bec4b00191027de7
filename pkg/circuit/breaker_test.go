package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	oreErrors "github.com/bardlex/oreminer/pkg/errors"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg *Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := New(cfg)
	b.now = clock.now
	b.windowStart = clock.t
	return b, clock
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State.String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestNew_NilConfig(t *testing.T) {
	b := New(nil)
	if b.config == nil {
		t.Fatal("Expected default config when nil is passed")
	}
	if b.State() != StateClosed {
		t.Errorf("Expected initial state closed, got %s", b.State())
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b, _ := newTestBreaker(&Config{
		MaxFailures:     3,
		SuccessRequired: 1,
		Timeout:         time.Second,
		ResetTimeout:    time.Minute,
	})
	ctx := context.Background()
	failing := func() error { return errors.New("rpc down") }

	for i := range 3 {
		if err := b.Execute(ctx, failing); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", b.State())
	}

	called := false
	err := b.Execute(ctx, func() error {
		called = true
		return nil
	})
	if called {
		t.Error("Open breaker should not run the function")
	}
	if !oreErrors.IsType(err, oreErrors.ErrorTypeNetwork) {
		t.Errorf("Expected network error from open breaker, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(&Config{
		MaxFailures:     1,
		SuccessRequired: 2,
		Timeout:         time.Second,
		ResetTimeout:    time.Minute,
	})
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errors.New("rpc down") })
	if b.State() != StateOpen {
		t.Fatalf("Expected open state, got %s", b.State())
	}

	clock.advance(2 * time.Second)

	if err := b.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Probe call failed: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after first probe, got %s", b.State())
	}

	if err := b.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Second probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected closed after enough probes, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(&Config{
		MaxFailures:     1,
		SuccessRequired: 2,
		Timeout:         time.Second,
		ResetTimeout:    time.Minute,
	})
	ctx := context.Background()

	_ = b.Execute(ctx, func() error { return errors.New("rpc down") })
	clock.advance(2 * time.Second)
	_ = b.Execute(ctx, func() error { return errors.New("still down") })

	if b.State() != StateOpen {
		t.Errorf("Expected open after failed probe, got %s", b.State())
	}
}

func TestBreaker_CancelledCallsNotCounted(t *testing.T) {
	b, _ := newTestBreaker(&Config{
		MaxFailures:     1,
		SuccessRequired: 1,
		Timeout:         time.Second,
		ResetTimeout:    time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_ = b.Execute(ctx, func() error { return ctx.Err() })
	if b.State() != StateClosed {
		t.Errorf("Cancellation should not trip the breaker, state %s", b.State())
	}
}

func TestExecuteWithResult(t *testing.T) {
	b, _ := newTestBreaker(nil)

	got, err := ExecuteWithResult(context.Background(), b, func() (int64, error) {
		return 1500, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != 1500 {
		t.Errorf("ExecuteWithResult() = %d, want 1500", got)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(&Config{
		MaxFailures:     1,
		SuccessRequired: 1,
		Timeout:         time.Hour,
		ResetTimeout:    time.Hour,
	})

	_ = b.Execute(context.Background(), func() error { return errors.New("rpc down") })
	b.Reset()

	stats := b.Stats()
	if stats.State != StateClosed || stats.Failures != 0 {
		t.Errorf("Reset() left stats %+v", stats)
	}
}
