package actions

import (
	"context"
	"log"
)

const ActionLog = "log"

// LogHandler records the action in the process log and always succeeds.
type LogHandler struct{}

func (LogHandler) Handle(ctx context.Context, actionType string, config map[string]any, ac ActionContext) error {
	log.Printf("actions: %s execution=%s rule=%s attempt=%d customer=%q order=%q product=%q message=%q",
		actionType, ac.ExecutionID, ac.RuleID, ac.Attempt, ac.CustomerID, ac.OrderID, ac.ProductID,
		stringConfig(config, "message"))
	return nil
}
