package postgres

const queryGetRule = `
SELECT id, name, trigger_type, active, created_at, updated_at
FROM rules
WHERE id = $1
`

const queryGetRuleActions = `
SELECT action_type, action_config
FROM rule_actions
WHERE rule_id = $1
ORDER BY position
`

const queryUpsertRule = `
INSERT INTO rules (id, name, trigger_type, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    trigger_type = EXCLUDED.trigger_type,
    active = EXCLUDED.active,
    updated_at = EXCLUDED.updated_at
`

const queryDeleteRuleActions = `
DELETE FROM rule_actions WHERE rule_id = $1
`

const queryInsertRuleAction = `
INSERT INTO rule_actions (rule_id, position, action_type, action_config)
VALUES ($1, $2, $3, $4)
`

const queryListActiveSubscriptions = `
SELECT s.id, s.trigger_type, s.rule_id, s.conditions, s.active, s.created_at
FROM subscriptions s
JOIN rules r ON r.id = s.rule_id
WHERE s.active = true
  AND r.active = true
ORDER BY s.created_at ASC, s.id ASC
`

const queryInsertSubscription = `
INSERT INTO subscriptions (id, trigger_type, rule_id, conditions, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryDeactivateSubscription = `
UPDATE subscriptions SET active = false WHERE id = $1
`

const queryInsertEvent = `
INSERT INTO events (id, trigger_type, trigger_data, customer_id, order_id, product_id, user_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const executionColumns = `id, rule_id, customer_id, order_id, product_id, status, action_type,
    action_config, execution_data, error_message, started_at, completed_at, created_at,
    retry_count, max_retries`

const queryInsertExecution = `
INSERT INTO executions (` + executionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

// The status guard makes the update atomic: PostgreSQL locks the row
// before evaluating WHERE, so a terminal row is never overwritten.
const queryUpdateExecution = `
UPDATE executions
SET status = $2,
    error_message = $3,
    started_at = $4,
    completed_at = $5,
    retry_count = $6,
    max_retries = $7
WHERE id = $1
  AND status NOT IN ('completed', 'failed', 'cancelled')
`

const queryGetExecutionStatus = `
SELECT status FROM executions WHERE id = $1
`

const queryGetExecution = `
SELECT ` + executionColumns + `
FROM executions
WHERE id = $1
`

const queryGetOrphanedExecutions = `
SELECT ` + executionColumns + `
FROM executions
WHERE status IN ('pending', 'running')
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`
