package api

import (
	"time"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

type ContextRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

func (c ContextRequest) toDomain() domain.EventContext {
	return domain.EventContext{
		CustomerID: c.CustomerID,
		OrderID:    c.OrderID,
		ProductID:  c.ProductID,
		UserID:     c.UserID,
	}
}

type PublishEventRequest struct {
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	Context     ContextRequest `json:"context"`
}

type EventResponse struct {
	ID          string `json:"id"`
	TriggerType string `json:"trigger_type"`
	CreatedAt   string `json:"created_at"`
}

type CreateSubscriptionRequest struct {
	TriggerType string         `json:"trigger_type"`
	RuleID      string         `json:"rule_id"`
	Conditions  map[string]any `json:"conditions,omitempty"`
}

type SubscriptionResponse struct {
	ID          string         `json:"id"`
	TriggerType string         `json:"trigger_type"`
	RuleID      string         `json:"rule_id"`
	Conditions  map[string]any `json:"conditions,omitempty"`
	Active      bool           `json:"active"`
	CreatedAt   string         `json:"created_at,omitempty"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
}

// ExecuteActionRequest enqueues one action directly. rule_id is optional.
type ExecuteActionRequest struct {
	RuleID       string         `json:"rule_id,omitempty"`
	ActionType   string         `json:"action_type"`
	ActionConfig map[string]any `json:"action_config,omitempty"`
	Context      ContextRequest `json:"context"`
}

type ExecutionResponse struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"rule_id"`
	CustomerID    string         `json:"customer_id,omitempty"`
	OrderID       string         `json:"order_id,omitempty"`
	ProductID     string         `json:"product_id,omitempty"`
	Status        string         `json:"status"`
	ActionType    string         `json:"action_type"`
	ExecutionData map[string]any `json:"execution_data,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	StartedAt     string         `json:"started_at,omitempty"`
	CompletedAt   string         `json:"completed_at,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// ActionCatalogResponse maps category to action types.
type ActionCatalogResponse struct {
	Categories map[string][]string `json:"categories"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func subscriptionResponse(s domain.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:          s.ID.String(),
		TriggerType: s.TriggerType,
		RuleID:      s.RuleID.String(),
		Conditions:  s.Conditions,
		Active:      s.Active,
		CreatedAt:   formatTime(s.CreatedAt),
	}
}

// ActionConfig is deliberately omitted: it may carry webhook secrets.
func executionResponse(e domain.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:            e.ID.String(),
		RuleID:        e.RuleID.String(),
		CustomerID:    e.CustomerID,
		OrderID:       e.OrderID,
		ProductID:     e.ProductID,
		Status:        string(e.Status),
		ActionType:    e.ActionType,
		ExecutionData: e.ExecutionData,
		ErrorMessage:  e.ErrorMessage,
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		StartedAt:     formatTimePtr(e.StartedAt),
		CompletedAt:   formatTimePtr(e.CompletedAt),
		CreatedAt:     formatTime(e.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
