package actions

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	called := false
	err := RegisterBuiltins(r, Builtins{
		Commerce: map[string]Handler{
			"send_email": HandlerFunc(func(ctx context.Context, actionType string, config map[string]any, ac ActionContext) error {
				called = true
				return nil
			}),
		},
	})
	if err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	tests := []struct {
		actionType string
		category   string
	}{
		{ActionCallWebhook, CategoryWebhooks},
		{ActionLog, CategorySystem},
		{"send_email", CategoryEmail},
		{"add_tag", CategoryTags},
		{"update_customer", CategoryCustomers},
		{"send_notification", CategoryNotifications},
	}
	for _, tt := range tests {
		a, err := r.Resolve(tt.actionType)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.actionType, err)
			continue
		}
		if a.Category != tt.category {
			t.Errorf("Resolve(%q).Category = %q, want %q", tt.actionType, a.Category, tt.category)
		}
	}

	// notify_nats needs a connection.
	var unknown *UnknownActionError
	if _, err := r.Resolve(ActionNotifyNATS); !errors.As(err, &unknown) {
		t.Errorf("expected notify_nats to be unregistered, got %v", err)
	}

	a, _ := r.Resolve("send_email")
	if err := a.Handler.Handle(context.Background(), "send_email", nil, ActionContext{}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !called {
		t.Error("override handler not used")
	}
}

func TestRegisterBuiltins_Twice(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, Builtins{}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := RegisterBuiltins(r, Builtins{}); !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("expected ErrDuplicateAction, got %v", err)
	}
}
