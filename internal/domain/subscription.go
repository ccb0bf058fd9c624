package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription binds a trigger type to a rule. Conditions, when present,
// must all equal the matching keys of an event's trigger data.
type Subscription struct {
	ID          uuid.UUID
	TriggerType string
	RuleID      uuid.UUID
	Conditions  map[string]any
	Active      bool
	CreatedAt   time.Time
}
