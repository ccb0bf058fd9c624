package dispatcher

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/metrics"
)

const (
	DefaultMaxConcurrent = 5
	DefaultMaxRetries    = 3
	DefaultTickInterval  = time.Second
	DefaultDrainTimeout  = 30 * time.Second

	// finishedLimit bounds how many terminal executions are kept for Get.
	finishedLimit = 1024
)

// DefaultRetryBackoff is the delay before the first, second and later retries.
var DefaultRetryBackoff = []time.Duration{
	2 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

type Store interface {
	InsertExecution(ctx context.Context, exec domain.Execution) error
	// UpdateExecution writes the full execution row. Implementations MUST
	// reject updates of executions already in a terminal state and return
	// ErrStatusTransitionDenied. This ensures idempotency on replay.
	UpdateExecution(ctx context.Context, exec domain.Execution) error
}

type ActionResolver interface {
	Resolve(actionType string) (actions.Action, error)
}

type AnalyticsSink interface {
	Record(ctx context.Context, exec domain.Execution)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ExecutionEnqueued(actionType string)
	ExecutionStarted(actionType string)
	ExecutionFinished(actionType, outcome, errorClass string, duration time.Duration)
	RetryScheduled(delay time.Duration)
	ExecutionsRunningUpdate(running int)
	ExecutionsPendingUpdate(pending int)
	PersistenceError(op string)
}

type Config struct {
	MaxConcurrent int
	MaxRetries    int
	TickInterval  time.Duration
	// RetryBackoff[i] is the delay before retry i+1; the last entry repeats.
	// A nil or all-zero schedule re-queues retries at the head immediately.
	RetryBackoff []time.Duration
	// HandlerTimeout bounds a single handler call. Zero disables it.
	HandlerTimeout time.Duration
	DrainTimeout   time.Duration
}

// DefaultConfig returns the process defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: DefaultMaxConcurrent,
		MaxRetries:    DefaultMaxRetries,
		TickInterval:  DefaultTickInterval,
		RetryBackoff:  DefaultRetryBackoff,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Stats is a consistent snapshot of the queue.
type Stats struct {
	Pending int // ready to run
	Delayed int // pending, waiting out a retry backoff
	Running int
}

type delayedExecution struct {
	exec *domain.Execution
	due  time.Time
}

// Dispatcher is the execution queue and its bounded worker pool.
type Dispatcher struct {
	store     Store
	actions   ActionResolver
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	cfg       Config
	now       func() time.Time

	mu            sync.Mutex
	queue         []*domain.Execution // head first
	delayed       []delayedExecution  // ordered by due time
	active        map[uuid.UUID]*domain.Execution
	finished      map[uuid.UUID]domain.Execution
	finishedOrder []uuid.UUID

	running atomic.Int64
	wake    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func New(store Store, resolver ActionResolver, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    store,
		actions:  resolver,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		active:   make(map[uuid.UUID]*domain.Execution),
		finished: make(map[uuid.UUID]domain.Execution),
		wake:     make(chan struct{}, 1),
	}
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Enqueue creates a pending execution at the tail of the queue and returns
// without waiting for it to run.
func (d *Dispatcher) Enqueue(ctx context.Context, req domain.ExecutionRequest) (domain.Execution, error) {
	if req.ActionType == "" {
		return domain.Execution{}, ErrEmptyActionType
	}
	if d.stopped.Load() {
		return domain.Execution{}, ErrDispatcherStopped
	}

	data := domain.CloneMap(req.Data)
	if data == nil {
		data = make(map[string]any, 1)
	}
	if req.Context.UserID != "" {
		data["user_id"] = req.Context.UserID
	}

	exec := domain.Execution{
		ID:            uuid.New(),
		RuleID:        req.RuleID,
		CustomerID:    req.Context.CustomerID,
		OrderID:       req.Context.OrderID,
		ProductID:     req.Context.ProductID,
		Status:        domain.ExecutionStatusPending,
		ActionType:    req.ActionType,
		ActionConfig:  domain.CloneMap(req.ActionConfig),
		ExecutionData: data,
		CreatedAt:     d.now().UTC(),
		MaxRetries:    d.cfg.MaxRetries,
	}

	// Insert before the execution becomes visible to workers so the running
	// update never precedes the initial row.
	if err := d.store.InsertExecution(ctx, exec); err != nil {
		d.persistFailed(&PersistenceError{Op: "insert_execution", ExecutionID: exec.ID, Err: err})
	}

	queued := exec.Clone()
	d.mu.Lock()
	d.queue = append(d.queue, &queued)
	d.active[exec.ID] = &queued
	pending := len(d.queue) + len(d.delayed)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.ExecutionEnqueued(exec.ActionType)
		d.metrics.ExecutionsPendingUpdate(pending)
	}
	d.signal()
	return exec.Clone(), nil
}

// Cancel moves a pending execution out of the queue into cancelled.
// Running executions cannot be preempted.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	d.mu.Lock()
	exec, ok := d.active[id]
	if !ok {
		_, done := d.finished[id]
		d.mu.Unlock()
		if done {
			return domain.Execution{}, ErrStatusTransitionDenied
		}
		return domain.Execution{}, ErrExecutionNotFound
	}
	if exec.Status == domain.ExecutionStatusRunning {
		d.mu.Unlock()
		return domain.Execution{}, ErrExecutionRunning
	}

	d.removeQueuedLocked(id)
	now := d.now().UTC()
	exec.Status = domain.ExecutionStatusCancelled
	exec.CompletedAt = &now
	out := exec.Clone()
	d.finishLocked(out)
	pending := len(d.queue) + len(d.delayed)
	d.mu.Unlock()

	d.persistUpdate(ctx, out)
	if d.metrics != nil {
		d.metrics.ExecutionFinished(out.ActionType, metrics.OutcomeCancelled, metrics.ErrorClassNone, 0)
		d.metrics.ExecutionsPendingUpdate(pending)
	}
	if d.analytics != nil {
		d.analytics.Record(ctx, out)
	}
	log.Printf("dispatcher: execution=%s cancelled", id)
	return out, nil
}

// Adopt admits a persisted, non-terminal execution this process does not
// know, typically one left behind by a previous process. A running
// execution is reset to pending. It returns false if the execution is
// already known.
func (d *Dispatcher) Adopt(ctx context.Context, exec domain.Execution) (bool, error) {
	if exec.Status.IsTerminal() {
		return false, ErrStatusTransitionDenied
	}
	if d.stopped.Load() {
		return false, ErrDispatcherStopped
	}

	exec = exec.Clone()
	if exec.MaxRetries <= 0 {
		exec.MaxRetries = d.cfg.MaxRetries
	}
	exec.Status = domain.ExecutionStatusPending

	d.mu.Lock()
	if _, ok := d.active[exec.ID]; ok {
		d.mu.Unlock()
		return false, nil
	}
	if _, ok := d.finished[exec.ID]; ok {
		d.mu.Unlock()
		return false, nil
	}

	if exec.RetryCount >= exec.MaxRetries {
		now := d.now().UTC()
		exec.RetryCount = exec.MaxRetries
		exec.Status = domain.ExecutionStatusFailed
		exec.CompletedAt = &now
		if exec.ErrorMessage == "" {
			exec.ErrorMessage = "retries exhausted before adoption"
		}
		d.finishLocked(exec)
		d.mu.Unlock()
		d.persistUpdate(ctx, exec)
		return true, nil
	}

	queued := exec.Clone()
	d.queue = append(d.queue, &queued)
	d.active[exec.ID] = &queued
	pending := len(d.queue) + len(d.delayed)
	d.mu.Unlock()

	d.persistUpdate(ctx, exec)
	if d.metrics != nil {
		d.metrics.ExecutionsPendingUpdate(pending)
	}
	d.signal()
	return true, nil
}

// Get returns an active execution or a recently finished one.
func (d *Dispatcher) Get(id uuid.UUID) (domain.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exec, ok := d.active[id]; ok {
		return exec.Clone(), nil
	}
	if exec, ok := d.finished[id]; ok {
		return exec.Clone(), nil
	}
	return domain.Execution{}, ErrExecutionNotFound
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Pending: len(d.queue),
		Delayed: len(d.delayed),
		Running: int(d.running.Load()),
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// removeQueuedLocked drops id from the ready queue or the delayed list.
func (d *Dispatcher) removeQueuedLocked(id uuid.UUID) {
	for i, e := range d.queue {
		if e.ID == id {
			d.queue = append(d.queue[:i:i], d.queue[i+1:]...)
			return
		}
	}
	for i, de := range d.delayed {
		if de.exec.ID == id {
			d.delayed = append(d.delayed[:i:i], d.delayed[i+1:]...)
			return
		}
	}
}

// finishLocked moves a terminal execution from the active set to the
// bounded finished set.
func (d *Dispatcher) finishLocked(exec domain.Execution) {
	delete(d.active, exec.ID)
	if _, ok := d.finished[exec.ID]; !ok {
		d.finishedOrder = append(d.finishedOrder, exec.ID)
	}
	d.finished[exec.ID] = exec
	for len(d.finishedOrder) > finishedLimit {
		oldest := d.finishedOrder[0]
		d.finishedOrder = d.finishedOrder[1:]
		delete(d.finished, oldest)
	}
}
