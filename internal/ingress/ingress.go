// Package ingress feeds commerce events from NATS into the event bus.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

const DefaultSubject = "commerce.events.>"

// Publisher is the event bus entry point.
type Publisher interface {
	Publish(triggerType string, triggerData map[string]any, ec domain.EventContext) (domain.Event, error)
}

// Message is the wire form of an inbound event.
type Message struct {
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data"`
	Context     MessageContext `json:"context"`
}

type MessageContext struct {
	CustomerID string     `json:"customer_id,omitempty"`
	OrderID    string     `json:"order_id,omitempty"`
	ProductID  string     `json:"product_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

type reply struct {
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Subscriber consumes a NATS subject and publishes each message on the bus.
// Malformed messages are logged and dropped.
type Subscriber struct {
	conn      *nats.Conn
	subject   string
	publisher Publisher

	received atomic.Int64
	dropped  atomic.Int64
}

// New creates a subscriber. An empty subject uses DefaultSubject.
func New(conn *nats.Conn, subject string, publisher Publisher) *Subscriber {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Subscriber{
		conn:      conn,
		subject:   subject,
		publisher: publisher,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the
// subscription so in-flight messages are still published.
func (s *Subscriber) Run(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	log.Printf("ingress: subscribed subject=%s", s.subject)

	<-ctx.Done()

	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		log.Printf("ingress: drain failed: %v", err)
	}
	log.Printf("ingress: stopped received=%d dropped=%d", s.received.Load(), s.dropped.Load())
	return ctx.Err()
}

// Stats returns the number of messages received and dropped.
func (s *Subscriber) Stats() (received, dropped int64) {
	return s.received.Load(), s.dropped.Load()
}

func (s *Subscriber) handle(msg *nats.Msg) {
	s.received.Add(1)

	triggerType, data, ec, err := Decode(msg.Subject, msg.Data)
	if err != nil {
		s.drop(msg, err)
		return
	}

	event, err := s.publisher.Publish(triggerType, data, ec)
	if err != nil {
		s.drop(msg, err)
		return
	}
	s.respond(msg, reply{EventID: event.ID.String()})
}

func (s *Subscriber) drop(msg *nats.Msg, err error) {
	s.dropped.Add(1)
	log.Printf("ingress: dropped message subject=%s: %v", msg.Subject, err)
	s.respond(msg, reply{Error: err.Error()})
}

func (s *Subscriber) respond(msg *nats.Msg, r reply) {
	if msg.Reply == "" {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := msg.Respond(body); err != nil {
		log.Printf("ingress: reply failed subject=%s: %v", msg.Reply, err)
	}
}

// Decode parses a message body. When the body carries no trigger_type, the
// last token of the subject is used (commerce.events.order_placed).
func Decode(subject string, body []byte) (string, map[string]any, domain.EventContext, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return "", nil, domain.EventContext{}, fmt.Errorf("decode message: %w", err)
	}

	triggerType := m.TriggerType
	if triggerType == "" {
		if i := strings.LastIndexByte(subject, '.'); i >= 0 && i < len(subject)-1 {
			triggerType = subject[i+1:]
		}
	}
	if triggerType == "" || triggerType == ">" || triggerType == "*" {
		return "", nil, domain.EventContext{}, errors.New("decode message: trigger_type is required")
	}

	ec := domain.EventContext{
		CustomerID: m.Context.CustomerID,
		OrderID:    m.Context.OrderID,
		ProductID:  m.Context.ProductID,
		UserID:     m.Context.UserID,
	}
	if m.Context.CreatedAt != nil {
		ec.CreatedAt = *m.Context.CreatedAt
	}
	return triggerType, m.TriggerData, ec, nil
}
