package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeGateway,
				Operation: "get_treasury",
				Message:   "failed to read treasury",
				Cause:     errors.New("rpc unavailable"),
			},
			expected: "gateway operation 'get_treasury' failed: failed to read treasury (caused by: rpc unavailable)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeValidation,
				Operation: "decode_request",
				Message:   "unknown message kind",
			},
			expected: "validation operation 'decode_request' failed: unknown message kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := New(ErrorTypeContention, "mine", "bus busy").
		WithContext("bus", 3).
		WithContext("attempt", 7)

	if len(err.Context) != 2 {
		t.Fatalf("Expected 2 context items, got %d", len(err.Context))
	}
	if err.Context["bus"] != 3 {
		t.Errorf("Expected bus = 3, got %v", err.Context["bus"])
	}
	if GetContext(err)["attempt"] != 7 {
		t.Errorf("Expected attempt = 7, got %v", GetContext(err)["attempt"])
	}
}

func TestNew_RetryableByType(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		retryable bool
	}{
		{ErrorTypeNetwork, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeContention, true},
		{ErrorTypeMessaging, true},
		{ErrorTypeGateway, false},
		{ErrorTypeValidation, false},
		{ErrorTypeEpochReset, false},
		{ErrorTypeInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := New(tt.errorType, "op", "msg")
			if err.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
			if err.Retryable != tt.retryable {
				t.Errorf("New(%s).Retryable = %v, want %v", tt.errorType, err.Retryable, tt.retryable)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, ErrorTypeGateway, "op", "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, ErrorTypeGateway, "get_clock", "failed to read clock")
	if !errors.Is(err, cause) {
		t.Error("Wrapped error should unwrap to its cause")
	}
	if !err.Retryable {
		t.Error("Connection refused should be retryable even for gateway errors")
	}

	plain := Wrap(errors.New("account not found"), ErrorTypeGateway, "get_proof", "failed to read proof")
	if plain.Retryable {
		t.Error("Plain gateway error should not be retryable")
	}
}

func TestWrap_PreservesInnerRetryability(t *testing.T) {
	inner := New(ErrorTypeValidation, "decode", "bad data")
	outer := Wrap(inner, ErrorTypeNetwork, "recv", "failed to receive")
	if outer.Retryable {
		t.Error("Wrap should keep the inner error's retryability")
	}
}

func TestWrap_ContextCancellation(t *testing.T) {
	err := Wrap(context.Canceled, ErrorTypeContention, "mine", "cancelled")
	if err.Retryable {
		t.Error("Cancelled operations should never be retryable")
	}
}

func TestIsType(t *testing.T) {
	inner := New(ErrorTypeEpochReset, "reset_epoch", "reset rejected")
	outer := Wrap(inner, ErrorTypeGateway, "submit", "submission aborted")
	wrapped := fmt.Errorf("session: %w", outer)

	if !IsType(wrapped, ErrorTypeGateway) {
		t.Error("Expected gateway type in chain")
	}
	if !IsType(wrapped, ErrorTypeEpochReset) {
		t.Error("Expected epoch_reset type in chain")
	}
	if IsType(wrapped, ErrorTypeContention) {
		t.Error("Did not expect contention type in chain")
	}
	if IsType(errors.New("plain"), ErrorTypeGateway) {
		t.Error("Plain errors have no type")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"contention", New(ErrorTypeContention, "mine", "busy"), true},
		{"validation", New(ErrorTypeValidation, "decode", "bad"), false},
		{"plain timeout", errors.New("i/o timeout"), true},
		{"plain other", errors.New("boom"), false},
		{"deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
