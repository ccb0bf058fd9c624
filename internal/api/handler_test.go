package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

// seededSubscriptions returns n subscriptions created one second apart.
func seededSubscriptions(n int) []domain.Subscription {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	subs := make([]domain.Subscription, n)
	for i := range subs {
		subs[i] = domain.Subscription{
			ID:          uuid.New(),
			TriggerType: "order_completed",
			RuleID:      uuid.New(),
			Conditions:  map[string]any{"position": float64(i)},
			Active:      true,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
	}
	return subs
}

func TestListSubscriptions_Pagination(t *testing.T) {
	subs := seededSubscriptions(DefaultLimit + 50)
	h := newTestHandler(&mockEngine{
		subscriptionsFn: func(string) []domain.Subscription { return subs },
	})

	tests := []struct {
		name      string
		query     string
		wantFirst int // index into subs, -1 for an empty page
		wantLen   int
	}{
		{"defaults", "", 0, DefaultLimit},
		{"zero limit uses default", "?limit=0", 0, DefaultLimit},
		{"custom page", "?limit=20&offset=30", 30, 20},
		{"last partial page", "?limit=40&offset=130", 130, 20},
		{"limit at max", "?limit=1000", 0, len(subs)},
		{"offset at end", "?offset=150", -1, 0},
		{"offset past end", "?offset=500", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodGet, "/subscriptions"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
			}

			var resp ListSubscriptionsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Subscriptions == nil {
				t.Fatal("subscriptions should encode as an array, not null")
			}
			if len(resp.Subscriptions) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(resp.Subscriptions), tt.wantLen)
			}
			if tt.wantFirst < 0 {
				return
			}

			for i, got := range resp.Subscriptions {
				want := subs[tt.wantFirst+i]
				if got.ID != want.ID.String() {
					t.Fatalf("item %d id = %s, want %s", i, got.ID, want.ID)
				}
				if got.Conditions["position"] != float64(tt.wantFirst+i) {
					t.Fatalf("item %d position = %v, want %d", i, got.Conditions["position"], tt.wantFirst+i)
				}
			}
		})
	}
}

func TestListSubscriptions_BadPagination(t *testing.T) {
	called := false
	h := newTestHandler(&mockEngine{
		subscriptionsFn: func(string) []domain.Subscription {
			called = true
			return seededSubscriptions(3)
		},
	})

	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{"limit over max", "?limit=2000", "limit exceeds maximum of 1000"},
		{"negative limit", "?limit=-1", "out of range"},
		{"negative offset", "?offset=-1", "out of range"},
		{"non-numeric limit", "?limit=abc", "invalid syntax"},
		{"non-numeric offset", "?offset=xyz", "invalid syntax"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodGet, "/subscriptions"+tt.query, "")
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if msg := decodeError(t, w); !strings.Contains(msg, tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.wantErr)
			}
		})
	}

	if called {
		t.Error("engine should not be queried when pagination is invalid")
	}
}

func TestListSubscriptions_FilterPassedThrough(t *testing.T) {
	subs := seededSubscriptions(3)
	var filters []string
	h := newTestHandler(&mockEngine{
		subscriptionsFn: func(triggerType string) []domain.Subscription {
			filters = append(filters, triggerType)
			if triggerType == "order_completed" {
				return subs
			}
			return nil
		},
	})

	w := do(h, http.MethodGet, "/subscriptions?trigger_type=order_completed&limit=2&offset=1", "")
	var resp ListSubscriptionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Subscriptions) != 2 || resp.Subscriptions[0].ID != subs[1].ID.String() {
		t.Errorf("unexpected page: %+v", resp.Subscriptions)
	}

	w = do(h, http.MethodGet, "/subscriptions?trigger_type=cart_abandoned", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Subscriptions) != 0 {
		t.Errorf("expected empty list for unknown trigger, got %d", len(resp.Subscriptions))
	}

	if len(filters) != 2 || filters[0] != "order_completed" || filters[1] != "cart_abandoned" {
		t.Errorf("filters = %v", filters)
	}
}
