package automation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

type mockStore struct {
	rules map[uuid.UUID]domain.Rule
	err   error
}

func (s *mockStore) GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error) {
	if s.err != nil {
		return domain.Rule{}, s.err
	}
	rule, ok := s.rules[id]
	if !ok {
		return domain.Rule{}, ErrRuleNotFound
	}
	return rule, nil
}

func TestResolver_Actions(t *testing.T) {
	active := domain.Rule{
		ID:     uuid.New(),
		Active: true,
		Actions: []domain.RuleAction{
			{ActionType: "send_email", ActionConfig: map[string]any{"template": "welcome"}},
			{ActionType: "add_tag", ActionConfig: map[string]any{"tag": "new"}},
		},
	}
	inactive := domain.Rule{ID: uuid.New(), Active: false, Actions: active.Actions}
	empty := domain.Rule{ID: uuid.New(), Active: true}

	store := &mockStore{rules: map[uuid.UUID]domain.Rule{
		active.ID:   active,
		inactive.ID: inactive,
		empty.ID:    empty,
	}}
	r := NewResolver(store)

	tests := []struct {
		name    string
		ruleID  uuid.UUID
		want    int
		wantErr error
	}{
		{"active rule", active.ID, 2, nil},
		{"inactive rule", inactive.ID, 0, ErrRuleInactive},
		{"no actions", empty.ID, 0, ErrNoActions},
		{"unknown rule", uuid.New(), 0, ErrRuleNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Actions(context.Background(), tt.ruleID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d actions, want %d", len(got), tt.want)
			}
		})
	}
}

func TestResolver_StoreError(t *testing.T) {
	r := NewResolver(&mockStore{err: errors.New("connection refused")})
	if _, err := r.Actions(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error")
	}
}
