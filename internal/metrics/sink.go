package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/circuitbreaker"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// EventBus metrics
	EventPublished(triggerType string)
	EventProcessed(matched int, duration time.Duration)
	EventQueueDepthUpdate(depth int)

	// Registry metrics
	ActiveSubscriptionsUpdate(count int)

	// Dispatcher metrics
	ExecutionEnqueued(actionType string)
	ExecutionStarted(actionType string)
	ExecutionFinished(actionType, outcome, errorClass string, duration time.Duration)
	RetryScheduled(delay time.Duration)
	ExecutionsRunningUpdate(running int)
	ExecutionsPendingUpdate(pending int)
	PersistenceError(op string)

	// Scheduler metrics
	TickCompleted(duration time.Duration, triggersFired int, err error)

	// Reconciler metrics
	OrphanedExecutionsUpdate(count int)
}

// Outcome constants for ExecutionFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// ErrorClass constants for ExecutionFinished. Bounded cardinality.
const (
	ErrorClassNone            = "none"
	ErrorClassUnknownAction   = "unknown_action"
	ErrorClassCircuitOpen     = "circuit_open"
	ErrorClassTimeout         = "timeout"
	ErrorClassConnectionError = "connection_error"
	ErrorClass4xx             = "4xx"
	ErrorClass5xx             = "5xx"
	ErrorClassHandlerError    = "handler_error"
)

// ClassifyError maps a handler error to an error class.
func ClassifyError(err error) string {
	if err == nil {
		return ErrorClassNone
	}

	var unknown *actions.UnknownActionError
	if errors.As(err, &unknown) {
		return ErrorClassUnknownAction
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return ErrorClassCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}

	var status *actions.StatusError
	if errors.As(err, &status) {
		if status.StatusCode >= 400 && status.StatusCode < 500 {
			return ErrorClass4xx
		}
		return ErrorClass5xx
	}

	errStr := err.Error()
	if contains(errStr, "timeout") || contains(errStr, "deadline exceeded") {
		return ErrorClassTimeout
	}
	if contains(errStr, "connection refused") || contains(errStr, "no such host") ||
		contains(errStr, "network is unreachable") || contains(errStr, "dial") {
		return ErrorClassConnectionError
	}
	return ErrorClassHandlerError
}

// contains is a simple case-insensitive substring check.
func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchInsensitive(s, substr)
}

func searchInsensitive(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if equalFoldAt(s, i, substr) {
			return true
		}
	}
	return false
}

func equalFoldAt(s string, offset int, substr string) bool {
	for j := 0; j < len(substr); j++ {
		c1 := s[offset+j]
		c2 := substr[j]
		if c1 != c2 && toLower(c1) != toLower(c2) {
			return false
		}
	}
	return true
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 32
	}
	return c
}
