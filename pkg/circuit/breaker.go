// Package circuit provides a circuit breaker for calls to the ledger RPC node.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/bardlex/oreminer/pkg/errors"
)

// State is the breaker state
type State int

const (
	// StateClosed lets every call through
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses
	StateOpen
	// StateHalfOpen lets probe calls through to test recovery
	StateHalfOpen
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	MaxFailures     int           // consecutive-ish failures before opening
	SuccessRequired int           // probe successes needed to close again
	Timeout         time.Duration // open -> half-open cool-down
	ResetTimeout    time.Duration // failure counter window while closed
}

// DefaultConfig returns the configuration used for RPC reads
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:     5,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    30 * time.Second,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config *Config
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	windowStart time.Time
}

// New creates a breaker; a nil config uses DefaultConfig
func New(config *Config) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}

	return &Breaker{
		config:      config,
		now:         time.Now,
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// Execute runs fn unless the breaker is open
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := ExecuteWithResult(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// ExecuteWithResult runs fn unless the breaker is open and records the outcome.
// Cancellation of ctx is not counted as a failure.
func ExecuteWithResult[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	if !b.allow() {
		return zero, errors.New(errors.ErrorTypeNetwork, "circuit_breaker",
			"circuit breaker is open").
			WithContext("state", b.State().String())
	}

	result, err := fn()
	if err != nil && ctx.Err() != nil {
		return result, err
	}

	b.record(err)
	return result, err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > b.config.ResetTimeout {
			b.failures = 0
			b.windowStart = now
		}
		return true
	case StateOpen:
		if now.Sub(b.lastFailure) > b.config.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return false
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.now()

		switch {
		case b.state == StateHalfOpen:
			b.trip()
		case b.state == StateClosed && b.failures >= b.config.MaxFailures:
			b.trip()
		}
		return
	}

	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessRequired {
			b.closeLocked()
		}
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.successes = 0
}

func (b *Breaker) closeLocked() {
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.windowStart = b.now()
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a snapshot of the breaker counters
type Stats struct {
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

// Stats returns a snapshot of the breaker counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// Reset forces the breaker closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}
