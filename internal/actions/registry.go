// Package actions holds the action dispatch table: a registration map from
// action identifier to category and handler. The execution queue resolves
// every execution through it and never branches on action names itself.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Well-known categories. Handlers may register under any category name.
const (
	CategoryCustomers     = "Customers"
	CategoryTags          = "Tags"
	CategoryEmail         = "Email"
	CategoryNotifications = "Notifications"
	CategoryWebhooks      = "Webhooks"
	CategorySystem        = "System"
)

var ErrDuplicateAction = errors.New("action already registered")

// UnknownActionError is returned by Resolve when no handler is registered
// for an action type. It is a configuration error and is never retried.
type UnknownActionError struct {
	ActionType string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type %q", e.ActionType)
}

// ActionContext is what a handler learns about the execution it serves.
type ActionContext struct {
	ExecutionID uuid.UUID
	RuleID      uuid.UUID
	CustomerID  string
	OrderID     string
	ProductID   string
	Attempt     int
	Data        map[string]any
}

// Handler performs the side effect of an action. A nil error is success;
// any error is treated as a retryable handler failure.
type Handler interface {
	Handle(ctx context.Context, actionType string, config map[string]any, ac ActionContext) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, actionType string, config map[string]any, ac ActionContext) error

func (f HandlerFunc) Handle(ctx context.Context, actionType string, config map[string]any, ac ActionContext) error {
	return f(ctx, actionType, config, ac)
}

// Action is one resolved entry of the dispatch table.
type Action struct {
	Category string
	Type     string
	Handler  Handler
}

type Registry struct {
	mu         sync.RWMutex
	actions    map[string]Action
	categories map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{
		actions:    make(map[string]Action),
		categories: make(map[string][]string),
	}
}

func (r *Registry) Register(category, actionType string, h Handler) error {
	if category == "" || actionType == "" {
		return fmt.Errorf("register action: category and action type are required")
	}
	if h == nil {
		return fmt.Errorf("register action %s: nil handler", actionType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actions[actionType]; ok {
		return fmt.Errorf("register action %s: %w", actionType, ErrDuplicateAction)
	}
	r.actions[actionType] = Action{Category: category, Type: actionType, Handler: h}
	r.categories[category] = append(r.categories[category], actionType)
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(category, actionType string, h Handler) {
	if err := r.Register(category, actionType, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Resolve(actionType string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[actionType]
	if !ok {
		return Action{}, &UnknownActionError{ActionType: actionType}
	}
	return a, nil
}

// Categories returns the registered category names, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.categories))
	for c := range r.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Actions returns the action types registered under category, sorted.
func (r *Registry) Actions(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]string(nil), r.categories[category]...)
	sort.Strings(out)
	return out
}
