package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/circuitbreaker"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ErrorClassNone},

		// Typed errors
		{"unknown action", &actions.UnknownActionError{ActionType: "nope"}, ErrorClassUnknownAction},
		{"wrapped unknown action", fmt.Errorf("resolve: %w", &actions.UnknownActionError{ActionType: "nope"}), ErrorClassUnknownAction},
		{"circuit open", fmt.Errorf("call_webhook: %w", circuitbreaker.ErrCircuitOpen), ErrorClassCircuitOpen},
		{"context deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ErrorClassTimeout},
		{"400 status", &actions.StatusError{StatusCode: 400}, ErrorClass4xx},
		{"429 status", &actions.StatusError{StatusCode: 429}, ErrorClass4xx},
		{"500 status", &actions.StatusError{StatusCode: 500}, ErrorClass5xx},
		{"wrapped 503 status", fmt.Errorf("webhook: %w", &actions.StatusError{StatusCode: 503}), ErrorClass5xx},

		// Message fallbacks
		{"timeout in message", errors.New("operation timeout"), ErrorClassTimeout},
		{"Timeout uppercase", errors.New("Timeout exceeded"), ErrorClassTimeout},
		{"connection refused", errors.New("connection refused"), ErrorClassConnectionError},
		{"no such host", errors.New("no such host"), ErrorClassConnectionError},
		{"dial error", errors.New("dial tcp 127.0.0.1:80: connect: refused"), ErrorClassConnectionError},

		// Everything else
		{"generic error", errors.New("customer not found"), ErrorClassHandlerError},
		{"empty error", errors.New(""), ErrorClassHandlerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got != tt.want {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		s, substr string
		want      bool
	}{
		{"Connection Refused", "connection refused", true},
		{"abc", "abcd", false},
		{"", "", true},
		{"dial tcp", "DIAL", true},
		{"handler failed", "timeout", false},
	}
	for _, tt := range tests {
		if got := contains(tt.s, tt.substr); got != tt.want {
			t.Errorf("contains(%q, %q) = %v, want %v", tt.s, tt.substr, got, tt.want)
		}
	}
}
