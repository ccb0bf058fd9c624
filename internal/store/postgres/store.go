package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/automation"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/dispatcher"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/eventbus"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/reconciler"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/registry"
)

// ErrDuplicateKey is returned when an insert collides with an existing row.
var ErrDuplicateKey = errors.New("duplicate key")

// Store persists rules, subscriptions, events and executions in PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithOpTimeout bounds every store call. Zero leaves ctx untouched.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// GetRule returns a rule with its ordered actions.
// Returns automation.ErrRuleNotFound if no such rule exists.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (domain.Rule, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var rule domain.Rule
	err := s.db.QueryRowContext(ctx, queryGetRule, id).Scan(
		&rule.ID,
		&rule.Name,
		&rule.TriggerType,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rule{}, automation.ErrRuleNotFound
	}
	if err != nil {
		return domain.Rule{}, err
	}

	rows, err := s.db.QueryContext(ctx, queryGetRuleActions, id)
	if err != nil {
		return domain.Rule{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var action domain.RuleAction
		var config []byte
		if err := rows.Scan(&action.ActionType, &config); err != nil {
			return domain.Rule{}, err
		}
		if action.ActionConfig, err = decodeJSON(config); err != nil {
			return domain.Rule{}, fmt.Errorf("decode action_config for rule %s: %w", id, err)
		}
		rule.Actions = append(rule.Actions, action)
	}
	if err := rows.Err(); err != nil {
		return domain.Rule{}, err
	}

	return rule, nil
}

// UpsertRule creates or replaces a rule and its actions in a single transaction.
func (s *Store) UpsertRule(ctx context.Context, rule domain.Rule) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, queryUpsertRule,
		rule.ID,
		rule.Name,
		rule.TriggerType,
		rule.Active,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, queryDeleteRuleActions, rule.ID); err != nil {
		return err
	}

	for i, action := range rule.Actions {
		config, err := encodeJSON(action.ActionConfig)
		if err != nil {
			return fmt.Errorf("encode action_config for rule %s: %w", rule.ID, err)
		}
		if _, err := tx.ExecContext(ctx, queryInsertRuleAction, rule.ID, i, action.ActionType, config); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListActiveSubscriptions returns active subscriptions of active rules in
// registration order.
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListActiveSubscriptions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var conditions []byte
		err := rows.Scan(
			&sub.ID,
			&sub.TriggerType,
			&sub.RuleID,
			&conditions,
			&sub.Active,
			&sub.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if sub.Conditions, err = decodeJSON(conditions); err != nil {
			return nil, fmt.Errorf("decode conditions for subscription %s: %w", sub.ID, err)
		}
		result = append(result, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// InsertSubscription inserts a new subscription record.
// Returns ErrDuplicateKey if the id already exists.
func (s *Store) InsertSubscription(ctx context.Context, sub domain.Subscription) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	conditions, err := encodeJSON(sub.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertSubscription,
		sub.ID,
		sub.TriggerType,
		sub.RuleID,
		conditions,
		sub.Active,
		sub.CreatedAt,
	)
	if isDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

// DeactivateSubscription marks a subscription inactive.
// Returns registry.ErrSubscriptionNotFound if no row matched.
func (s *Store) DeactivateSubscription(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryDeactivateSubscription, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrSubscriptionNotFound
	}
	return nil
}

// InsertEvent records a published event.
func (s *Store) InsertEvent(ctx context.Context, event domain.Event) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := encodeJSON(event.TriggerData)
	if err != nil {
		return fmt.Errorf("encode trigger_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertEvent,
		event.ID,
		event.TriggerType,
		data,
		nullable(event.Context.CustomerID),
		nullable(event.Context.OrderID),
		nullable(event.Context.ProductID),
		nullable(event.Context.UserID),
		event.Context.CreatedAt,
	)
	if isDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

// InsertExecution inserts a new execution record.
func (s *Store) InsertExecution(ctx context.Context, exec domain.Execution) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	config, err := encodeJSON(exec.ActionConfig)
	if err != nil {
		return fmt.Errorf("encode action_config: %w", err)
	}
	data, err := encodeJSON(exec.ExecutionData)
	if err != nil {
		return fmt.Errorf("encode execution_data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertExecution,
		exec.ID,
		exec.RuleID,
		nullable(exec.CustomerID),
		nullable(exec.OrderID),
		nullable(exec.ProductID),
		string(exec.Status),
		exec.ActionType,
		config,
		data,
		nullable(exec.ErrorMessage),
		exec.StartedAt,
		exec.CompletedAt,
		exec.CreatedAt,
		exec.RetryCount,
		exec.MaxRetries,
	)
	if isDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	return err
}

// UpdateExecution writes the mutable fields of an execution.
// Returns dispatcher.ErrStatusTransitionDenied if the stored row is already
// terminal, and dispatcher.ErrExecutionNotFound if it does not exist.
func (s *Store) UpdateExecution(ctx context.Context, exec domain.Execution) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryUpdateExecution,
		exec.ID,
		string(exec.Status),
		nullable(exec.ErrorMessage),
		exec.StartedAt,
		exec.CompletedAt,
		exec.RetryCount,
		exec.MaxRetries,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Zero rows: either missing or already terminal.
	var status string
	err = s.db.QueryRowContext(ctx, queryGetExecutionStatus, exec.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatcher.ErrExecutionNotFound
	}
	if err != nil {
		return err
	}
	return dispatcher.ErrStatusTransitionDenied
}

// GetExecution returns a persisted execution.
// Returns dispatcher.ErrExecutionNotFound if no such execution exists.
func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	exec, err := scanExecution(s.db.QueryRowContext(ctx, queryGetExecution, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Execution{}, dispatcher.ErrExecutionNotFound
	}
	return exec, err
}

// GetOrphanedExecutions returns pending or running executions created before
// olderThan, oldest first.
func (s *Store) GetOrphanedExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Execution, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryGetOrphanedExecutions, olderThan, maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (domain.Execution, error) {
	var exec domain.Execution
	var customerID, orderID, productID, errorMessage sql.NullString
	var status string
	var config, data []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&exec.ID,
		&exec.RuleID,
		&customerID,
		&orderID,
		&productID,
		&status,
		&exec.ActionType,
		&config,
		&data,
		&errorMessage,
		&startedAt,
		&completedAt,
		&exec.CreatedAt,
		&exec.RetryCount,
		&exec.MaxRetries,
	)
	if err != nil {
		return domain.Execution{}, err
	}

	exec.CustomerID = customerID.String
	exec.OrderID = orderID.String
	exec.ProductID = productID.String
	exec.ErrorMessage = errorMessage.String
	exec.Status = domain.ExecutionStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	if exec.ActionConfig, err = decodeJSON(config); err != nil {
		return domain.Execution{}, fmt.Errorf("decode action_config for execution %s: %w", exec.ID, err)
	}
	if exec.ExecutionData, err = decodeJSON(data); err != nil {
		return domain.Execution{}, fmt.Errorf("decode execution_data for execution %s: %w", exec.ID, err)
	}
	return exec, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeJSON(b []byte) (map[string]any, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// isDuplicateKeyError reports a unique_violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var (
	_ automation.Store = (*Store)(nil)
	_ registry.Store   = (*Store)(nil)
	_ eventbus.Store   = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
)
