package eventbus

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

var (
	ErrBusStopped       = errors.New("event bus stopped")
	ErrEmptyTriggerType = errors.New("trigger type is required")
)

const (
	DefaultInterval     = 500 * time.Millisecond
	DefaultDrainTimeout = 30 * time.Second
)

// Store persists published events for audit. Failures are logged only.
type Store interface {
	InsertEvent(ctx context.Context, event domain.Event) error
}

// Matcher returns the active subscriptions for a trigger type in
// registration order.
type Matcher interface {
	Match(triggerType string) []domain.Subscription
}

// ActionResolver resolves the configured actions of a rule.
type ActionResolver interface {
	Actions(ctx context.Context, ruleID uuid.UUID) ([]domain.RuleAction, error)
}

// Enqueuer accepts one execution request per resolved action.
type Enqueuer interface {
	Enqueue(ctx context.Context, req domain.ExecutionRequest) (domain.Execution, error)
}

// MetricsSink records event bus metrics. Methods must not block.
type MetricsSink interface {
	EventPublished(triggerType string)
	EventProcessed(matched int, duration time.Duration)
	EventQueueDepthUpdate(depth int)
}

// Bus queues published events and feeds them, one at a time, to matching.
type Bus struct {
	store    Store
	matcher  Matcher
	resolver ActionResolver
	enqueuer Enqueuer
	metrics  MetricsSink // optional, nil = disabled

	queue        *queue
	interval     time.Duration
	drainTimeout time.Duration
	now          func() time.Time
	stopped      atomic.Bool
}

func New(store Store, matcher Matcher, resolver ActionResolver, enqueuer Enqueuer) *Bus {
	return &Bus{
		store:        store,
		matcher:      matcher,
		resolver:     resolver,
		enqueuer:     enqueuer,
		queue:        newQueue(),
		interval:     DefaultInterval,
		drainTimeout: DefaultDrainTimeout,
		now:          time.Now,
	}
}

// WithMetrics attaches a metrics sink to the bus.
func (b *Bus) WithMetrics(sink MetricsSink) *Bus {
	b.metrics = sink
	return b
}

// WithInterval sets the fallback polling interval of the drain loop.
func (b *Bus) WithInterval(d time.Duration) *Bus {
	if d > 0 {
		b.interval = d
	}
	return b
}

// WithDrainTimeout bounds how long Run keeps draining after cancellation.
func (b *Bus) WithDrainTimeout(d time.Duration) *Bus {
	b.drainTimeout = d
	return b
}

func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.now = now
	return b
}

// Publish queues an event and returns immediately. It never waits for
// matching or execution.
func (b *Bus) Publish(triggerType string, triggerData map[string]any, ec domain.EventContext) (domain.Event, error) {
	if triggerType == "" {
		return domain.Event{}, ErrEmptyTriggerType
	}
	if b.stopped.Load() {
		return domain.Event{}, ErrBusStopped
	}
	if ec.CreatedAt.IsZero() {
		ec.CreatedAt = b.now().UTC()
	}
	if triggerData == nil {
		triggerData = map[string]any{}
	} else {
		triggerData = domain.CloneMap(triggerData)
	}

	event := domain.Event{
		ID:          uuid.New(),
		TriggerType: triggerType,
		TriggerData: triggerData,
		Context:     ec,
	}
	depth := b.queue.push(event)

	if b.metrics != nil {
		b.metrics.EventPublished(triggerType)
		b.metrics.EventQueueDepthUpdate(depth)
	}
	return event, nil
}

// Pending returns the number of events waiting to be drained.
func (b *Bus) Pending() int {
	return b.queue.len()
}

// Run drains the queue until ctx is cancelled. After cancellation, further
// publishes are rejected and the remaining events are drained under a timeout.
func (b *Bus) Run(ctx context.Context) {
	log.Printf("eventbus: started, interval=%s", b.interval)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.stopped.Store(true)
			b.drain()
			log.Println("eventbus: stopped")
			return
		case <-ticker.C:
			b.drainOnce(ctx)
		case <-b.queue.wait():
			b.drainOnce(ctx)
		}
	}
}

func (b *Bus) drainOnce(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		event, ok := b.queue.pop()
		if !ok {
			return
		}
		b.Process(ctx, event)
	}
}

// drain processes events still buffered after the shutdown signal.
// Uses a background context since the main context is already cancelled.
func (b *Bus) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), b.drainTimeout)
	defer cancel()

	count := 0
	for {
		if drainCtx.Err() != nil {
			log.Printf("eventbus: drain timeout, processed %d events, dropped %d", count, b.queue.len())
			return
		}
		event, ok := b.queue.pop()
		if !ok {
			if count > 0 {
				log.Printf("eventbus: drain complete, processed %d events", count)
			}
			return
		}
		b.Process(drainCtx, event)
		count++
	}
}

// Process persists one event, matches it against active subscriptions and
// enqueues one execution per resolved action. It returns the number of
// executions enqueued.
func (b *Bus) Process(ctx context.Context, event domain.Event) int {
	start := b.now()

	if err := b.store.InsertEvent(ctx, event); err != nil {
		log.Printf("eventbus: event=%s persist failed: %v", event.ID, err)
	}

	matched := 0
	enqueued := 0
	for _, sub := range b.matcher.Match(event.TriggerType) {
		if !ConditionsMatch(sub.Conditions, event.TriggerData) {
			continue
		}
		matched++

		ruleActions, err := b.resolver.Actions(ctx, sub.RuleID)
		if err != nil {
			log.Printf("eventbus: event=%s subscription=%s rule=%s resolve failed: %v", event.ID, sub.ID, sub.RuleID, err)
			continue
		}

		for _, a := range ruleActions {
			req := domain.ExecutionRequest{
				RuleID:       sub.RuleID,
				ActionType:   a.ActionType,
				ActionConfig: a.ActionConfig,
				Context:      event.Context,
				Data: map[string]any{
					"event_id":     event.ID.String(),
					"trigger_type": event.TriggerType,
					"trigger_data": domain.CloneMap(event.TriggerData),
				},
			}
			if _, err := b.enqueuer.Enqueue(ctx, req); err != nil {
				log.Printf("eventbus: event=%s rule=%s action=%s enqueue failed: %v", event.ID, sub.RuleID, a.ActionType, err)
				continue
			}
			enqueued++
		}
	}

	if b.metrics != nil {
		b.metrics.EventProcessed(matched, b.now().Sub(start))
		b.metrics.EventQueueDepthUpdate(b.queue.len())
	}
	return enqueued
}
