package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

var (
	// ErrRuleNotFound is returned by stores when no rule has the given id.
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleInactive = errors.New("rule inactive")
	ErrNoActions    = errors.New("rule has no actions")
)

type Store interface {
	GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error)
}

// Resolver bridges a fired subscription to the actions of its rule.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Actions returns the configured actions of an active rule.
func (r *Resolver) Actions(ctx context.Context, ruleID uuid.UUID) ([]domain.RuleAction, error) {
	rule, err := r.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("get rule %s: %w", ruleID, err)
	}
	if !rule.Active {
		return nil, fmt.Errorf("rule %s: %w", ruleID, ErrRuleInactive)
	}
	if len(rule.Actions) == 0 {
		return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNoActions)
	}
	return rule.Actions, nil
}
