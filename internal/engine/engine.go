// Package engine composes the subscription registry, event bus, execution
// queue and rule resolver into one explicitly constructed service.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/automation"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/dispatcher"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/eventbus"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/metrics"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/registry"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
	// ErrStopped is returned by Start once the engine has been stopped.
	// An engine is single-use; build a new one to restart.
	ErrStopped = errors.New("engine stopped")
)

// Store is everything the engine persists.
type Store interface {
	registry.Store
	eventbus.Store
	dispatcher.Store
	automation.Store
	GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error)
}

type Config struct {
	Dispatcher dispatcher.Config
	// EventInterval is the fallback polling interval of the event bus.
	EventInterval     time.Duration
	EventDrainTimeout time.Duration
}

// Stats is a point-in-time view for health reporting.
type Stats struct {
	EventsPending       int
	ActiveSubscriptions int
	Executions          dispatcher.Stats
}

type Engine struct {
	store      Store
	actions    *actions.Registry
	registry   *registry.Registry
	resolver   *automation.Resolver
	dispatcher *dispatcher.Dispatcher
	bus        *eventbus.Bus

	mu               sync.Mutex
	started          bool
	stopped          bool
	cancelBus        context.CancelFunc
	cancelDispatcher context.CancelFunc
	busDone          chan struct{}
	dispatcherDone   chan struct{}
}

func New(store Store, acts *actions.Registry, cfg Config) *Engine {
	reg := registry.New(store)
	resolver := automation.NewResolver(store)
	disp := dispatcher.New(store, acts, cfg.Dispatcher)
	bus := eventbus.New(store, reg, resolver, disp).WithInterval(cfg.EventInterval)
	if cfg.EventDrainTimeout > 0 {
		bus.WithDrainTimeout(cfg.EventDrainTimeout)
	}

	return &Engine{
		store:      store,
		actions:    acts,
		registry:   reg,
		resolver:   resolver,
		dispatcher: disp,
		bus:        bus,
	}
}

// WithMetrics attaches one sink to every component.
func (e *Engine) WithMetrics(sink metrics.Sink) *Engine {
	e.registry.WithMetrics(sink)
	e.dispatcher.WithMetrics(sink)
	e.bus.WithMetrics(sink)
	return e
}

func (e *Engine) WithAnalytics(sink dispatcher.AnalyticsSink) *Engine {
	e.dispatcher.WithAnalytics(sink)
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.registry.WithClock(now)
	e.dispatcher.WithClock(now)
	e.bus.WithClock(now)
	return e
}

// Start loads subscriptions and starts the event bus and the worker pool.
// The engine runs until Stop; ctx only bounds loading.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}
	if err := e.registry.Load(ctx); err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	busCtx, cancelBus := context.WithCancel(context.Background())
	e.cancelDispatcher = cancelDispatcher
	e.cancelBus = cancelBus
	e.dispatcherDone = make(chan struct{})
	e.busDone = make(chan struct{})

	go func() {
		defer close(e.dispatcherDone)
		e.dispatcher.Run(dispatcherCtx)
	}()
	go func() {
		defer close(e.busDone)
		e.bus.Run(busCtx)
	}()

	e.started = true
	log.Printf("engine: started, subscriptions=%d", e.registry.ActiveCount())
	return nil
}

// Stop drains the event bus first, so buffered events still enqueue their
// executions, then drains the worker pool.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return
	}

	e.cancelBus()
	<-e.busDone
	e.cancelDispatcher()
	<-e.dispatcherDone

	e.started = false
	e.stopped = true
	log.Println("engine: stopped")
}

// Publish queues an event for matching. It never waits for execution.
func (e *Engine) Publish(triggerType string, triggerData map[string]any, ec domain.EventContext) (domain.Event, error) {
	return e.bus.Publish(triggerType, triggerData, ec)
}

func (e *Engine) Subscribe(ctx context.Context, triggerType string, ruleID uuid.UUID, conditions map[string]any) (uuid.UUID, error) {
	return e.registry.Subscribe(ctx, triggerType, ruleID, conditions)
}

func (e *Engine) Unsubscribe(ctx context.Context, id uuid.UUID) error {
	return e.registry.Unsubscribe(ctx, id)
}

// Subscriptions lists active subscriptions; an empty trigger type lists all.
func (e *Engine) Subscriptions(triggerType string) []domain.Subscription {
	return e.registry.List(triggerType)
}

// ExecuteAction enqueues one execution directly, bypassing matching.
func (e *Engine) ExecuteAction(ctx context.Context, ruleID uuid.UUID, actionType string, actionConfig map[string]any, ec domain.EventContext) (domain.Execution, error) {
	return e.dispatcher.Enqueue(ctx, domain.ExecutionRequest{
		RuleID:       ruleID,
		ActionType:   actionType,
		ActionConfig: actionConfig,
		Context:      ec,
	})
}

func (e *Engine) CancelExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	return e.dispatcher.Cancel(ctx, id)
}

// Execution returns the live state of an execution known to this process,
// falling back to the store.
func (e *Engine) Execution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	exec, err := e.dispatcher.Get(id)
	if err == nil {
		return exec, nil
	}
	if !errors.Is(err, dispatcher.ErrExecutionNotFound) {
		return domain.Execution{}, err
	}
	return e.store.GetExecution(ctx, id)
}

func (e *Engine) Stats() Stats {
	return Stats{
		EventsPending:       e.bus.Pending(),
		ActiveSubscriptions: e.registry.ActiveCount(),
		Executions:          e.dispatcher.Stats(),
	}
}

// Actions returns the action dispatch table.
func (e *Engine) Actions() *actions.Registry {
	return e.actions
}

// Registry returns the subscription registry, used for seeding.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Dispatcher returns the execution queue, used by the reconciler.
func (e *Engine) Dispatcher() *dispatcher.Dispatcher {
	return e.dispatcher
}
