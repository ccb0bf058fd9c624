package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/metrics"
)

// Run schedules queued executions until ctx is cancelled. It wakes on every
// tick and whenever an execution is enqueued or a worker slot frees up.
// After cancellation, new work is rejected and in-flight handlers are given
// up to DrainTimeout to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("dispatcher: started, max_concurrent=%d max_retries=%d tick=%s", d.cfg.MaxConcurrent, d.cfg.MaxRetries, d.cfg.TickInterval)

	// Handlers are never preempted by shutdown.
	workCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.stopped.Store(true)
			d.drain()
			return
		case <-ticker.C:
			d.schedule(workCtx)
		case <-d.wake:
			d.schedule(workCtx)
		}
	}
}

// schedule promotes due retries and starts queued executions while worker
// slots are free. Only Run calls it.
func (d *Dispatcher) schedule(ctx context.Context) {
	d.mu.Lock()
	now := d.now().UTC()
	d.promoteDueLocked(now)

	var started []domain.Execution
	for int(d.running.Load()) < d.cfg.MaxConcurrent && len(d.queue) > 0 {
		exec := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]

		startedAt := now
		exec.Status = domain.ExecutionStatusRunning
		exec.StartedAt = &startedAt
		exec.CompletedAt = nil
		d.running.Add(1)
		started = append(started, exec.Clone())
	}
	running := int(d.running.Load())
	pending := len(d.queue) + len(d.delayed)
	d.mu.Unlock()

	if d.metrics != nil && len(started) > 0 {
		d.metrics.ExecutionsRunningUpdate(running)
		d.metrics.ExecutionsPendingUpdate(pending)
	}

	for _, exec := range started {
		d.wg.Add(1)
		go d.run(ctx, exec)
	}
}

// promoteDueLocked moves retries whose backoff has elapsed to the head of
// the ready queue, earliest due first.
func (d *Dispatcher) promoteDueLocked(now time.Time) {
	n := 0
	for n < len(d.delayed) && !d.delayed[n].due.After(now) {
		n++
	}
	if n == 0 {
		return
	}

	due := make([]*domain.Execution, 0, n+len(d.queue))
	for _, de := range d.delayed[:n] {
		due = append(due, de.exec)
	}
	d.queue = append(due, d.queue...)
	d.delayed = append(d.delayed[:0:0], d.delayed[n:]...)
}

// run executes one attempt. exec is the worker's own copy; the shared
// queue state is only touched again in complete.
func (d *Dispatcher) run(ctx context.Context, exec domain.Execution) {
	defer d.wg.Done()

	d.persistUpdate(ctx, exec)

	action, err := d.actions.Resolve(exec.ActionType)
	if err != nil {
		d.complete(ctx, exec, err, 0)
		return
	}

	if d.metrics != nil {
		d.metrics.ExecutionStarted(exec.ActionType)
	}
	start := d.now()
	err = d.invoke(ctx, action, exec)
	d.complete(ctx, exec, err, d.now().Sub(start))
}

func (d *Dispatcher) invoke(ctx context.Context, action actions.Action, exec domain.Execution) (err error) {
	attempt := exec.RetryCount + 1

	if d.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &HandlerExecutionError{ActionType: exec.ActionType, Attempt: attempt, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	ac := actions.ActionContext{
		ExecutionID: exec.ID,
		RuleID:      exec.RuleID,
		CustomerID:  exec.CustomerID,
		OrderID:     exec.OrderID,
		ProductID:   exec.ProductID,
		Attempt:     attempt,
		Data:        exec.ExecutionData,
	}
	if herr := action.Handler.Handle(ctx, exec.ActionType, exec.ActionConfig, ac); herr != nil {
		return &HandlerExecutionError{ActionType: exec.ActionType, Attempt: attempt, Err: herr}
	}
	return nil
}

// complete applies the outcome of one attempt: completed on success, failed
// for an unknown action or exhausted retries, otherwise back to pending.
// The new state is persisted before the worker slot is released.
func (d *Dispatcher) complete(ctx context.Context, exec domain.Execution, err error, duration time.Duration) {
	now := d.now().UTC()
	outcome := metrics.OutcomeCompleted
	var delay time.Duration

	var unknown *actions.UnknownActionError
	switch {
	case err == nil:
		exec.Status = domain.ExecutionStatusCompleted
		exec.ErrorMessage = ""
		exec.CompletedAt = &now

	case errors.As(err, &unknown):
		outcome = metrics.OutcomeFailed
		exec.Status = domain.ExecutionStatusFailed
		exec.ErrorMessage = err.Error()
		exec.CompletedAt = &now

	default:
		exec.RetryCount++
		exec.ErrorMessage = errorMessage(err)
		if exec.RetryCount < exec.MaxRetries {
			outcome = metrics.OutcomeRetried
			exec.Status = domain.ExecutionStatusPending
			delay = d.backoffFor(exec.RetryCount)
		} else {
			outcome = metrics.OutcomeFailed
			exec.Status = domain.ExecutionStatusFailed
			exec.CompletedAt = &now
		}
	}

	d.persistUpdate(ctx, exec)

	d.mu.Lock()
	if exec.Status.IsTerminal() {
		d.finishLocked(exec.Clone())
	} else {
		queued := exec.Clone()
		d.active[exec.ID] = &queued
		if delay > 0 {
			d.insertDelayedLocked(&queued, now.Add(delay))
		} else {
			d.queue = append([]*domain.Execution{&queued}, d.queue...)
		}
	}
	running := int(d.running.Add(-1))
	pending := len(d.queue) + len(d.delayed)
	d.mu.Unlock()

	switch outcome {
	case metrics.OutcomeCompleted:
		log.Printf("dispatcher: execution=%s action=%s completed attempt=%d", exec.ID, exec.ActionType, exec.RetryCount+1)
	case metrics.OutcomeRetried:
		log.Printf("dispatcher: execution=%s action=%s retry=%d/%d backoff=%s err=%v", exec.ID, exec.ActionType, exec.RetryCount, exec.MaxRetries, delay, err)
	default:
		log.Printf("dispatcher: execution=%s action=%s failed retries=%d err=%v", exec.ID, exec.ActionType, exec.RetryCount, err)
	}

	if d.metrics != nil {
		d.metrics.ExecutionFinished(exec.ActionType, outcome, metrics.ClassifyError(err), duration)
		if outcome == metrics.OutcomeRetried {
			d.metrics.RetryScheduled(delay)
		}
		d.metrics.ExecutionsRunningUpdate(running)
		d.metrics.ExecutionsPendingUpdate(pending)
	}
	if d.analytics != nil && exec.Status.IsTerminal() {
		d.analytics.Record(ctx, exec)
	}

	d.signal()
}

func (d *Dispatcher) insertDelayedLocked(exec *domain.Execution, due time.Time) {
	i := len(d.delayed)
	for i > 0 && d.delayed[i-1].due.After(due) {
		i--
	}
	d.delayed = append(d.delayed, delayedExecution{})
	copy(d.delayed[i+1:], d.delayed[i:])
	d.delayed[i] = delayedExecution{exec: exec, due: due}
}

// backoffFor returns the delay before retry number retry (1-based).
func (d *Dispatcher) backoffFor(retry int) time.Duration {
	if len(d.cfg.RetryBackoff) == 0 {
		return 0
	}
	idx := retry - 1
	if idx >= len(d.cfg.RetryBackoff) {
		idx = len(d.cfg.RetryBackoff) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return d.cfg.RetryBackoff[idx]
}

// drain waits for in-flight handlers after the shutdown signal. Queued
// executions stay pending in the store for the next process to adopt.
func (d *Dispatcher) drain() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(d.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		stats := d.Stats()
		log.Printf("dispatcher: stopped, pending=%d delayed=%d left queued", stats.Pending, stats.Delayed)
	case <-timer.C:
		log.Printf("dispatcher: drain timeout, running=%d", d.running.Load())
	}
}

func (d *Dispatcher) persistUpdate(ctx context.Context, exec domain.Execution) {
	err := d.store.UpdateExecution(ctx, exec)
	if err == nil {
		return
	}
	if errors.Is(err, ErrStatusTransitionDenied) {
		// Execution already in terminal state (likely reprocessing). Safe to ignore.
		log.Printf("dispatcher: execution=%s already terminal, skipping status update", exec.ID)
		return
	}
	d.persistFailed(&PersistenceError{Op: "update_execution", ExecutionID: exec.ID, Err: err})
}

func (d *Dispatcher) persistFailed(err *PersistenceError) {
	log.Printf("dispatcher: %v", err)
	if d.metrics != nil {
		d.metrics.PersistenceError(err.Op)
	}
}
