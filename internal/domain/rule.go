package domain

import (
	"time"

	"github.com/google/uuid"
)

type RuleAction struct {
	ActionType   string
	ActionConfig map[string]any
}

// Rule is owned by the surrounding platform; the engine only reads it.
type Rule struct {
	ID          uuid.UUID
	Name        string
	TriggerType string
	Actions     []RuleAction
	Active      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
