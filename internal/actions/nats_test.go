package actions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// startTestNATS starts an embedded NATS server and returns a connected client.
func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSHandler_Publishes(t *testing.T) {
	nc := startTestNATS(t)

	msgs := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("notifications.orders", msgs)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe()

	h := NewNATSHandler(nc)
	cfg := map[string]any{"subject": "notifications.orders", "channel": "slack"}
	if err := h.Handle(context.Background(), ActionNotifyNATS, cfg, testActionContext()); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	select {
	case msg := <-msgs:
		var p Payload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if p.ActionType != ActionNotifyNATS || p.OrderID != "ord_7" {
			t.Errorf("payload = %+v", p)
		}
		if p.Config["channel"] != "slack" {
			t.Errorf("config = %v", p.Config)
		}
		if _, leaked := p.Config["subject"]; leaked {
			t.Error("subject leaked into payload config")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNATSHandler_MissingSubject(t *testing.T) {
	nc := startTestNATS(t)
	h := NewNATSHandler(nc)
	if err := h.Handle(context.Background(), ActionNotifyNATS, map[string]any{}, testActionContext()); err == nil {
		t.Fatal("expected error for missing subject")
	}
}
