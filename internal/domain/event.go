package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventContext correlates an event with commerce entities. All ids are optional.
type EventContext struct {
	CustomerID string
	OrderID    string
	ProductID  string
	UserID     string
	CreatedAt  time.Time
}

// Event is published once and never mutated.
type Event struct {
	ID          uuid.UUID
	TriggerType string
	TriggerData map[string]any
	Context     EventContext
}
