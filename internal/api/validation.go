package api

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

func validatePublishEvent(req PublishEventRequest) error {
	if req.TriggerType == "" {
		return fmt.Errorf("trigger_type is required")
	}
	return nil
}

func validateCreateSubscription(req CreateSubscriptionRequest) (uuid.UUID, error) {
	if req.TriggerType == "" {
		return uuid.Nil, fmt.Errorf("trigger_type is required")
	}
	if req.RuleID == "" {
		return uuid.Nil, fmt.Errorf("rule_id is required")
	}
	ruleID, err := uuid.Parse(req.RuleID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid rule_id: %w", err)
	}
	if ruleID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("rule_id is required")
	}
	return ruleID, nil
}

// validateExecuteAction parses the optional rule id and checks webhook
// configuration early so a bad URL is rejected instead of retried.
func validateExecuteAction(req ExecuteActionRequest) (uuid.UUID, error) {
	if req.ActionType == "" {
		return uuid.Nil, fmt.Errorf("action_type is required")
	}

	ruleID := uuid.Nil
	if req.RuleID != "" {
		var err error
		ruleID, err = uuid.Parse(req.RuleID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid rule_id: %w", err)
		}
	}

	if raw, ok := req.ActionConfig["url"]; ok {
		s, ok := raw.(string)
		if !ok {
			return uuid.Nil, fmt.Errorf("invalid action_config.url: must be a string")
		}
		if err := validateWebhookURL(s); err != nil {
			return uuid.Nil, fmt.Errorf("invalid action_config.url: %w", err)
		}
	}
	return ruleID, nil
}

func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
