package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Execution is one attempt-tracked run of a single rule action.
type Execution struct {
	ID     uuid.UUID
	RuleID uuid.UUID

	CustomerID string
	OrderID    string
	ProductID  string

	Status        ExecutionStatus
	ActionType    string
	ActionConfig  map[string]any
	ExecutionData map[string]any
	ErrorMessage  string

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time

	RetryCount int
	MaxRetries int
}

// Clone returns a copy that shares no mutable state with e.
func (e Execution) Clone() Execution {
	out := e
	out.ActionConfig = CloneMap(e.ActionConfig)
	out.ExecutionData = CloneMap(e.ExecutionData)
	if e.StartedAt != nil {
		t := *e.StartedAt
		out.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ExecutionRequest asks the dispatcher to run one action for a rule.
type ExecutionRequest struct {
	RuleID       uuid.UUID
	ActionType   string
	ActionConfig map[string]any
	Context      EventContext
	Data         map[string]any
}

// CloneMap deep-copies a decoded JSON-style map. Nested maps and slices are
// copied; other values are shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
