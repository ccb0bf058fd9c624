package actions

import "github.com/nats-io/nats.go"

// Commerce catalog. These integrations live outside the engine; by default
// they are served by LogHandler until a deployment registers real handlers.
var commerceCatalog = map[string][]string{
	CategoryCustomers:     {"update_customer", "add_to_segment", "remove_from_segment"},
	CategoryTags:          {"add_tag", "remove_tag"},
	CategoryEmail:         {"send_email", "send_bounceback_email"},
	CategoryNotifications: {"send_notification", "send_sms"},
}

// Builtins configures RegisterBuiltins.
type Builtins struct {
	// Webhook serves call_webhook. Nil uses NewWebhookHandler().
	Webhook *WebhookHandler
	// NATS enables notify_nats when set.
	NATS *nats.Conn
	// Commerce overrides catalog handlers by action type.
	Commerce map[string]Handler
}

// RegisterBuiltins fills r with the system actions and the commerce catalog.
func RegisterBuiltins(r *Registry, b Builtins) error {
	webhook := b.Webhook
	if webhook == nil {
		webhook = NewWebhookHandler()
	}
	if err := r.Register(CategoryWebhooks, ActionCallWebhook, webhook); err != nil {
		return err
	}
	if err := r.Register(CategorySystem, ActionLog, LogHandler{}); err != nil {
		return err
	}
	if b.NATS != nil {
		if err := r.Register(CategoryNotifications, ActionNotifyNATS, NewNATSHandler(b.NATS)); err != nil {
			return err
		}
	}

	for category, types := range commerceCatalog {
		for _, actionType := range types {
			var h Handler = LogHandler{}
			if override, ok := b.Commerce[actionType]; ok {
				h = override
			}
			if err := r.Register(category, actionType, h); err != nil {
				return err
			}
		}
	}
	return nil
}
