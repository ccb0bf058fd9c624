// Package memory provides an in-process implementation of every store
// interface. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/automation"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/dispatcher"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/eventbus"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/reconciler"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/registry"
)

// Store keeps rules, subscriptions, events and executions in maps guarded
// by a single mutex.
type Store struct {
	mu sync.RWMutex

	rules      map[uuid.UUID]domain.Rule
	subs       []domain.Subscription
	events     []domain.Event
	executions map[uuid.UUID]domain.Execution
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rules:      make(map[uuid.UUID]domain.Rule),
		executions: make(map[uuid.UUID]domain.Execution),
	}
}

// GetRule returns automation.ErrRuleNotFound for unknown ids.
func (s *Store) GetRule(_ context.Context, id uuid.UUID) (domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return domain.Rule{}, automation.ErrRuleNotFound
	}
	return cloneRule(rule), nil
}

// UpsertRule creates or replaces a rule.
func (s *Store) UpsertRule(_ context.Context, rule domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

// ListActiveSubscriptions returns active subscriptions whose rule exists and
// is active, oldest first.
func (s *Store) ListActiveSubscriptions(_ context.Context) ([]domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Subscription
	for _, sub := range s.subs {
		if !sub.Active {
			continue
		}
		if rule, ok := s.rules[sub.RuleID]; !ok || !rule.Active {
			continue
		}
		result = append(result, sub)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) InsertSubscription(_ context.Context, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = append(s.subs, sub)
	return nil
}

// DeactivateSubscription returns registry.ErrSubscriptionNotFound for unknown ids.
func (s *Store) DeactivateSubscription(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.subs {
		if s.subs[i].ID == id {
			s.subs[i].Active = false
			return nil
		}
	}
	return registry.ErrSubscriptionNotFound
}

func (s *Store) InsertEvent(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

// Events returns recorded events in publish order.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) InsertExecution(_ context.Context, exec domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[exec.ID] = exec.Clone()
	return nil
}

// UpdateExecution refuses to overwrite a terminal execution.
func (s *Store) UpdateExecution(_ context.Context, exec domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.executions[exec.ID]
	if !ok {
		return dispatcher.ErrExecutionNotFound
	}
	if current.Status.IsTerminal() {
		return dispatcher.ErrStatusTransitionDenied
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

// GetExecution returns dispatcher.ErrExecutionNotFound for unknown ids.
func (s *Store) GetExecution(_ context.Context, id uuid.UUID) (domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return domain.Execution{}, dispatcher.ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

// Executions returns every stored execution, oldest first.
func (s *Store) Executions() []domain.Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Execution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, exec.Clone())
	}
	sortByCreated(out)
	return out
}

func (s *Store) GetOrphanedExecutions(_ context.Context, olderThan time.Time, maxResults int) ([]domain.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Execution
	for _, exec := range s.executions {
		if exec.Status.IsTerminal() || !exec.CreatedAt.Before(olderThan) {
			continue
		}
		out = append(out, exec.Clone())
	}
	sortByCreated(out)
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func sortByCreated(execs []domain.Execution) {
	sort.Slice(execs, func(i, j int) bool {
		if execs[i].CreatedAt.Equal(execs[j].CreatedAt) {
			return execs[i].ID.String() < execs[j].ID.String()
		}
		return execs[i].CreatedAt.Before(execs[j].CreatedAt)
	})
}

func cloneRule(r domain.Rule) domain.Rule {
	out := r
	out.Actions = make([]domain.RuleAction, len(r.Actions))
	copy(out.Actions, r.Actions)
	return out
}

var (
	_ automation.Store = (*Store)(nil)
	_ registry.Store   = (*Store)(nil)
	_ eventbus.Store   = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
)
