package actions

import "time"

// Payload is the JSON document delivered by the outbound built-in actions.
type Payload struct {
	ExecutionID string         `json:"execution_id"`
	RuleID      string         `json:"rule_id"`
	ActionType  string         `json:"action_type"`
	Attempt     int            `json:"attempt"`
	CustomerID  string         `json:"customer_id,omitempty"`
	OrderID     string         `json:"order_id,omitempty"`
	ProductID   string         `json:"product_id,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	SentAt      string         `json:"sent_at"`
}

func newPayload(actionType string, config map[string]any, ac ActionContext, now time.Time) Payload {
	return Payload{
		ExecutionID: ac.ExecutionID.String(),
		RuleID:      ac.RuleID.String(),
		ActionType:  actionType,
		Attempt:     ac.Attempt,
		CustomerID:  ac.CustomerID,
		OrderID:     ac.OrderID,
		ProductID:   ac.ProductID,
		Config:      publicConfig(config),
		Data:        ac.Data,
		SentAt:      now.UTC().Format(time.RFC3339),
	}
}

// publicConfig drops transport settings that must not leave the process.
func publicConfig(config map[string]any) map[string]any {
	if len(config) == 0 {
		return nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		switch k {
		case "secret", "url", "subject", "timeout_seconds":
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringConfig(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

// durationSeconds reads a numeric seconds value as decoded from JSON or YAML.
func durationSeconds(config map[string]any, key string) time.Duration {
	switch v := config[key].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	}
	return 0
}
