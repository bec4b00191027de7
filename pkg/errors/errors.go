// Package errors provides the error taxonomy shared by the miner components.
// Every failure that crosses a package boundary is a *ServiceError carrying a
// category, the failing operation, and whether retrying may help.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType categorizes a failure
type ErrorType string

const (
	// ErrorTypeGateway represents a ledger read or write failure
	ErrorTypeGateway ErrorType = "gateway"
	// ErrorTypeNetwork represents transport-level failures
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents deadline or confirmation timeouts
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeValidation represents malformed input or wire data
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeContention represents a mine transaction rejected on a busy bus
	ErrorTypeContention ErrorType = "contention"
	// ErrorTypeEpochReset represents a failed reset-epoch transaction
	ErrorTypeEpochReset ErrorType = "epoch_reset"
	// ErrorTypeMessaging represents event sink failures (Kafka, Redis, InfluxDB)
	ErrorTypeMessaging ErrorType = "messaging"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError is a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the operation may succeed if attempted again
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext attaches a key/value pair for logging
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a ServiceError without a cause
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps err with a category and operation. A nil err yields nil.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := isRetryableByType(errorType) || isRetryableByDefault(err)

	// An inner ServiceError already knows whether it is retryable
	var se *ServiceError
	if errors.As(err, &se) {
		retryable = se.Retryable
	}

	// Cancellation always wins
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		retryable = false
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeContention, ErrorTypeMessaging:
		return true
	default:
		return false
	}
}

// isRetryableByDefault recognizes transient transport failures by message
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transient := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"timeout",
		"temporary failure",
		"too many requests",
		"429",
		"503",
	}

	for _, s := range transient {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// IsType checks if any ServiceError in the chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			return false
		}
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext returns the context map of the outermost ServiceError
func GetContext(err error) map[string]any {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}

// Is and As re-export the standard helpers so callers need one import.
var (
	Is = errors.Is
	As = errors.As
)
