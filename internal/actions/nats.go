package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const ActionNotifyNATS = "notify_nats"

const flushTimeout = 5 * time.Second

// NATSHandler publishes the execution payload to config["subject"].
type NATSHandler struct {
	conn  *nats.Conn
	clock func() time.Time
}

func NewNATSHandler(conn *nats.Conn) *NATSHandler {
	return &NATSHandler{conn: conn, clock: time.Now}
}

func (h *NATSHandler) Handle(ctx context.Context, actionType string, config map[string]any, ac ActionContext) error {
	subject := stringConfig(config, "subject")
	if subject == "" {
		return fmt.Errorf("%s: config.subject is required", actionType)
	}

	data, err := json.Marshal(newPayload(actionType, config, ac, h.clock()))
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	if err := h.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	// Flush surfaces connection problems as a handler error instead of
	// silently buffering the message.
	if err := h.conn.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("flushing %s: %w", subject, err)
	}
	return nil
}
