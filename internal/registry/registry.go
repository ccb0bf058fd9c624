package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrEmptyTriggerType     = errors.New("trigger type is required")
	ErrNilRuleID            = errors.New("rule id is required")
)

// Store is the persistence side of the registry. The in-memory index is the
// source of truth for the running process; the store is eventually
// consistent with it.
type Store interface {
	// ListActiveSubscriptions returns active subscriptions whose rule is
	// active, oldest first.
	ListActiveSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	InsertSubscription(ctx context.Context, sub domain.Subscription) error
	DeactivateSubscription(ctx context.Context, id uuid.UUID) error
}

// MetricsSink records registry metrics. Methods must not block.
type MetricsSink interface {
	ActiveSubscriptionsUpdate(count int)
	PersistenceError(op string)
}

// Registry indexes subscriptions by trigger type.
type Registry struct {
	store   Store
	metrics MetricsSink // optional, nil = disabled
	now     func() time.Time

	mu     sync.RWMutex
	byType map[string][]*domain.Subscription
	byID   map[uuid.UUID]*domain.Subscription
	active int
}

func New(store Store) *Registry {
	return &Registry{
		store:  store,
		now:    time.Now,
		byType: make(map[string][]*domain.Subscription),
		byID:   make(map[uuid.UUID]*domain.Subscription),
	}
}

// WithMetrics attaches a metrics sink to the registry.
func (r *Registry) WithMetrics(sink MetricsSink) *Registry {
	r.metrics = sink
	return r
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Load replaces the index with the active subscriptions held by the store.
func (r *Registry) Load(ctx context.Context) error {
	subs, err := r.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	byType := make(map[string][]*domain.Subscription)
	byID := make(map[uuid.UUID]*domain.Subscription, len(subs))
	for i := range subs {
		s := subs[i]
		s.Active = true
		byType[s.TriggerType] = append(byType[s.TriggerType], &s)
		byID[s.ID] = &s
	}

	r.mu.Lock()
	r.byType = byType
	r.byID = byID
	r.active = len(subs)
	r.mu.Unlock()

	r.reportActive(len(subs))
	log.Printf("registry: loaded %d active subscriptions", len(subs))
	return nil
}

// Subscribe always creates a new subscription, even when an identical one
// exists. Both will fire.
func (r *Registry) Subscribe(ctx context.Context, triggerType string, ruleID uuid.UUID, conditions map[string]any) (uuid.UUID, error) {
	if triggerType == "" {
		return uuid.Nil, ErrEmptyTriggerType
	}
	if ruleID == uuid.Nil {
		return uuid.Nil, ErrNilRuleID
	}

	sub := domain.Subscription{
		ID:          uuid.New(),
		TriggerType: triggerType,
		RuleID:      ruleID,
		Conditions:  domain.CloneMap(conditions),
		Active:      true,
		CreatedAt:   r.now().UTC(),
	}

	r.mu.Lock()
	stored := sub
	r.byType[triggerType] = append(r.byType[triggerType], &stored)
	r.byID[sub.ID] = &stored
	r.active++
	active := r.active
	r.mu.Unlock()

	r.reportActive(active)

	if err := r.store.InsertSubscription(ctx, sub); err != nil {
		log.Printf("registry: subscription=%s persist failed: %v", sub.ID, err)
		if r.metrics != nil {
			r.metrics.PersistenceError("insert_subscription")
		}
	}
	return sub.ID, nil
}

// Unsubscribe marks a subscription inactive. History is kept.
// Unsubscribing an inactive subscription is a no-op.
func (r *Registry) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	sub, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	if !sub.Active {
		r.mu.Unlock()
		return nil
	}
	sub.Active = false
	r.active--
	active := r.active

	list := r.byType[sub.TriggerType]
	for i, s := range list {
		if s.ID == id {
			r.byType[sub.TriggerType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.reportActive(active)

	if err := r.store.DeactivateSubscription(ctx, id); err != nil {
		log.Printf("registry: subscription=%s deactivate persist failed: %v", id, err)
		if r.metrics != nil {
			r.metrics.PersistenceError("deactivate_subscription")
		}
	}
	return nil
}

// Match returns copies of the active subscriptions for triggerType in
// registration order.
func (r *Registry) Match(triggerType string) []domain.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byType[triggerType]
	if len(list) == 0 {
		return nil
	}
	out := make([]domain.Subscription, len(list))
	for i, s := range list {
		out[i] = *s
	}
	return out
}

// Get returns a subscription by id, active or not.
func (r *Registry) Get(id uuid.UUID) (domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	if !ok {
		return domain.Subscription{}, ErrSubscriptionNotFound
	}
	return *sub, nil
}

// List returns active subscriptions, optionally filtered by trigger type,
// ordered by trigger type and then registration order.
func (r *Registry) List(triggerType string) []domain.Subscription {
	if triggerType != "" {
		return r.Match(triggerType)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make([]domain.Subscription, 0, r.active)
	for _, t := range types {
		for _, s := range r.byType[t] {
			out = append(out, *s)
		}
	}
	return out
}

// ActiveCount returns the number of active subscriptions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registry) reportActive(n int) {
	if r.metrics != nil {
		r.metrics.ActiveSubscriptionsUpdate(n)
	}
}
