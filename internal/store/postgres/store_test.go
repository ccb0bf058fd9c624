package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/automation"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/dispatcher"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/registry"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

var executionColumnNames = []string{
	"id", "rule_id", "customer_id", "order_id", "product_id", "status", "action_type",
	"action_config", "execution_data", "error_message", "started_at", "completed_at", "created_at",
	"retry_count", "max_retries",
}

func TestGetRule(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	ruleID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM rules WHERE id = \\$1").
		WithArgs(ruleID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "trigger_type", "active", "created_at", "updated_at"}).
			AddRow(ruleID.String(), "welcome", "customer_signup", true, now, now))
	mock.ExpectQuery("SELECT action_type, action_config FROM rule_actions WHERE rule_id = \\$1 ORDER BY position").
		WithArgs(ruleID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"action_type", "action_config"}).
			AddRow("send_email", []byte(`{"template":"welcome"}`)).
			AddRow("add_tag", []byte(`{}`)))

	rule, err := store.GetRule(context.Background(), ruleID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if rule.ID != ruleID || rule.TriggerType != "customer_signup" || !rule.Active {
		t.Errorf("unexpected rule: %+v", rule)
	}
	if len(rule.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(rule.Actions))
	}
	if rule.Actions[0].ActionType != "send_email" || rule.Actions[0].ActionConfig["template"] != "welcome" {
		t.Errorf("unexpected first action: %+v", rule.Actions[0])
	}
	if rule.Actions[1].ActionType != "add_tag" {
		t.Errorf("expected add_tag second, got %s", rule.Actions[1].ActionType)
	}
}

func TestGetRule_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	ruleID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM rules WHERE id = \\$1").
		WithArgs(ruleID.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRule(context.Background(), ruleID)
	if !errors.Is(err, automation.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestUpsertRule(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	now := time.Now().UTC()
	rule := domain.Rule{
		ID:          uuid.New(),
		Name:        "abandoned cart",
		TriggerType: "cart_abandoned",
		Active:      true,
		Actions: []domain.RuleAction{
			{ActionType: "send_email", ActionConfig: map[string]any{"template": "reminder"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rules").
		WithArgs(rule.ID.String(), "abandoned cart", "cart_abandoned", true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM rule_actions WHERE rule_id = \\$1").
		WithArgs(rule.ID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO rule_actions").
		WithArgs(rule.ID.String(), 0, "send_email", []byte(`{"template":"reminder"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.UpsertRule(context.Background(), rule); err != nil {
		t.Fatalf("UpsertRule: %v", err)
	}
}

func TestUpsertRule_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	rule := domain.Rule{ID: uuid.New(), TriggerType: "order_placed"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rules").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if err := store.UpsertRule(context.Background(), rule); err == nil {
		t.Fatal("expected error")
	}
}

func TestListActiveSubscriptions(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	first, second := uuid.New(), uuid.New()
	ruleID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM subscriptions s JOIN rules r ON r.id = s.rule_id WHERE s.active = true AND r.active = true ORDER BY s.created_at ASC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "trigger_type", "rule_id", "conditions", "active", "created_at"}).
			AddRow(first.String(), "order_placed", ruleID.String(), nil, true, now).
			AddRow(second.String(), "order_placed", ruleID.String(), []byte(`{"min_total":100}`), true, now.Add(time.Second)))

	subs, err := store.ListActiveSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ListActiveSubscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
	if subs[0].ID != first || subs[1].ID != second {
		t.Errorf("order not preserved: %v, %v", subs[0].ID, subs[1].ID)
	}
	if subs[0].Conditions != nil {
		t.Errorf("expected nil conditions, got %v", subs[0].Conditions)
	}
	if subs[1].Conditions["min_total"] != float64(100) {
		t.Errorf("unexpected conditions: %v", subs[1].Conditions)
	}
}

func TestInsertSubscription_Duplicate(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	sub := domain.Subscription{ID: uuid.New(), TriggerType: "order_placed", RuleID: uuid.New(), Active: true}

	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.InsertSubscription(context.Background(), sub)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestDeactivateSubscription(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{"deactivated", 1, nil},
		{"missing", 0, registry.ErrSubscriptionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := New(db)
			id := uuid.New()

			mock.ExpectExec("UPDATE subscriptions SET active = false WHERE id = \\$1").
				WithArgs(id.String()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := store.DeactivateSubscription(context.Background(), id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInsertEvent(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	now := time.Now().UTC()
	event := domain.Event{
		ID:          uuid.New(),
		TriggerType: "order_placed",
		TriggerData: map[string]any{"total": 42},
		Context:     domain.EventContext{CustomerID: "cust_1", CreatedAt: now},
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs(event.ID.String(), "order_placed", []byte(`{"total":42}`), "cust_1", nil, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.InsertEvent(context.Background(), event); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
}

func TestInsertExecution(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	now := time.Now().UTC()
	exec := domain.Execution{
		ID:         uuid.New(),
		RuleID:     uuid.New(),
		OrderID:    "ord_9",
		Status:     domain.ExecutionStatusPending,
		ActionType: "send_email",
		CreatedAt:  now,
		MaxRetries: 3,
	}

	mock.ExpectExec("INSERT INTO executions").
		WithArgs(
			exec.ID.String(), exec.RuleID.String(), nil, "ord_9", nil, "pending", "send_email",
			[]byte(`{}`), []byte(`{}`), nil, nil, nil, now, 0, 3,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.InsertExecution(context.Background(), exec); err != nil {
		t.Fatalf("InsertExecution: %v", err)
	}
}

func TestUpdateExecution(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	started := time.Now().UTC()
	exec := domain.Execution{
		ID:         uuid.New(),
		Status:     domain.ExecutionStatusRunning,
		StartedAt:  &started,
		RetryCount: 1,
		MaxRetries: 3,
	}

	mock.ExpectExec("UPDATE executions SET status = \\$2").
		WithArgs(exec.ID.String(), "running", nil, started, nil, 1, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateExecution(context.Background(), exec); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
}

func TestUpdateExecution_TerminalGuard(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		lookErr error
		wantErr error
	}{
		{
			name:    "already terminal",
			rows:    sqlmock.NewRows([]string{"status"}).AddRow("completed"),
			wantErr: dispatcher.ErrStatusTransitionDenied,
		},
		{
			name:    "missing",
			lookErr: sql.ErrNoRows,
			wantErr: dispatcher.ErrExecutionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := New(db)
			exec := domain.Execution{ID: uuid.New(), Status: domain.ExecutionStatusFailed, ErrorMessage: "boom"}

			mock.ExpectExec("UPDATE executions").
				WillReturnResult(sqlmock.NewResult(0, 0))
			q := mock.ExpectQuery("SELECT status FROM executions WHERE id = \\$1").WithArgs(exec.ID.String())
			if tt.lookErr != nil {
				q.WillReturnError(tt.lookErr)
			} else {
				q.WillReturnRows(tt.rows)
			}

			err := store.UpdateExecution(context.Background(), exec)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetExecution(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	id, ruleID := uuid.New(), uuid.New()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	completed := created.Add(time.Minute)

	mock.ExpectQuery("SELECT .+ FROM executions WHERE id = \\$1").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(executionColumnNames).AddRow(
			id.String(), ruleID.String(), "cust_1", nil, nil, "failed", "call_webhook",
			[]byte(`{"url":"http://example.test"}`), []byte(`{"event_id":"e1"}`), "status 503",
			created, completed, created, 3, 3,
		))

	exec, err := store.GetExecution(context.Background(), id)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if exec.Status != domain.ExecutionStatusFailed {
		t.Errorf("expected failed, got %s", exec.Status)
	}
	if exec.CustomerID != "cust_1" || exec.OrderID != "" {
		t.Errorf("unexpected context ids: customer=%q order=%q", exec.CustomerID, exec.OrderID)
	}
	if exec.StartedAt == nil || !exec.StartedAt.Equal(created) {
		t.Errorf("unexpected started_at: %v", exec.StartedAt)
	}
	if exec.CompletedAt == nil || !exec.CompletedAt.Equal(completed) {
		t.Errorf("unexpected completed_at: %v", exec.CompletedAt)
	}
	if exec.ErrorMessage != "status 503" {
		t.Errorf("unexpected error message: %q", exec.ErrorMessage)
	}
	if exec.ActionConfig["url"] != "http://example.test" || exec.ExecutionData["event_id"] != "e1" {
		t.Errorf("json columns not decoded: %v %v", exec.ActionConfig, exec.ExecutionData)
	}
	if exec.RetryCount != 3 || exec.MaxRetries != 3 {
		t.Errorf("unexpected retry counters: %d/%d", exec.RetryCount, exec.MaxRetries)
	}
}

func TestGetExecution_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM executions WHERE id = \\$1").
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetExecution(context.Background(), id)
	if !errors.Is(err, dispatcher.ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestGetOrphanedExecutions(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db)
	cutoff := time.Now().UTC().Add(-10 * time.Minute)
	created := cutoff.Add(-time.Hour)
	started := created.Add(time.Second)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM executions WHERE status IN \\('pending', 'running'\\) AND created_at < \\$1 ORDER BY created_at ASC LIMIT \\$2").
		WithArgs(cutoff, 50).
		WillReturnRows(sqlmock.NewRows(executionColumnNames).AddRow(
			id.String(), uuid.New().String(), nil, nil, nil, "running", "send_email",
			[]byte(`{}`), []byte(`{}`), nil, started, nil, created, 1, 3,
		))

	execs, err := store.GetOrphanedExecutions(context.Background(), cutoff, 50)
	if err != nil {
		t.Fatalf("GetOrphanedExecutions: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if execs[0].ID != id || execs[0].Status != domain.ExecutionStatusRunning {
		t.Errorf("unexpected execution: %+v", execs[0])
	}
	if execs[0].CompletedAt != nil {
		t.Errorf("expected nil completed_at, got %v", execs[0].CompletedAt)
	}
}

func TestNullable(t *testing.T) {
	if v := nullable(""); v.Valid {
		t.Error("empty string should be NULL")
	}
	if v := nullable("x"); !v.Valid || v.String != "x" {
		t.Errorf("unexpected value: %+v", v)
	}
}

func TestOpTimeout(t *testing.T) {
	db, mock := newMockDB(t)
	store := New(db).WithOpTimeout(20 * time.Millisecond)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM executions WHERE id = \\$1").
		WithArgs(id.String()).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows(executionColumnNames))

	start := time.Now()
	_, err := store.GetExecution(context.Background(), id)
	if err == nil {
		t.Fatal("expected error when the query outlives the op timeout")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("GetExecution returned after %v, want the op timeout to cut it short", elapsed)
	}
}
