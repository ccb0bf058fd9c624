// Package reconciler re-admits executions left behind by a previous process.
//
// An execution is orphaned when its persisted status is still pending or
// running but no live dispatcher holds it, typically after a crash or a
// shutdown that outlasted the drain timeout.
//
// The reconciler periodically scans the store for such executions and hands
// them to the dispatcher's Adopt. Executions the dispatcher already holds
// are skipped there, and terminal rows are never returned by the store, so
// a cycle is safe to repeat. This is recovery, not exactly-once delivery: a
// handler interrupted mid-call runs again.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

// Store defines the interface for fetching orphaned executions.
type Store interface {
	// GetOrphanedExecutions returns pending or running executions created
	// before olderThan, oldest first.
	GetOrphanedExecutions(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.Execution, error)
}

// Adopter admits an execution into the live queue. It returns false when
// the execution is already known.
type Adopter interface {
	Adopt(ctx context.Context, exec domain.Execution) (bool, error)
}

type MetricsSink interface {
	OrphanedExecutionsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a non-terminal execution is considered orphaned.
	// Default: 10 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of orphans to process per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 10 * time.Minute,
		BatchSize: 100,
	}
}

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	Found   int
	Adopted int
	Known   int
	Failed  int
}

type Reconciler struct {
	config  Config
	store   Store
	adopter Adopter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, adopter Adopter) *Reconciler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Reconciler{
		config:  config,
		store:   store,
		adopter: adopter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation cycle.
func (r *Reconciler) RunCycle(ctx context.Context) CycleResult {
	var res CycleResult
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	orphans, err := r.store.GetOrphanedExecutions(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// Retried next interval.
		log.Printf("reconciler: failed to fetch orphans: %v", err)
		return res
	}
	res.Found = len(orphans)
	if r.metrics != nil {
		r.metrics.OrphanedExecutionsUpdate(len(orphans))
	}
	if len(orphans) == 0 {
		return res
	}

	for _, exec := range orphans {
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d orphans", res.Adopted+res.Known+res.Failed, len(orphans))
			return res
		}

		adopted, err := r.adopter.Adopt(ctx, exec)
		if err != nil {
			log.Printf("reconciler: failed to adopt execution=%s rule=%s: %v", exec.ID, exec.RuleID, err)
			res.Failed++
			continue
		}
		if !adopted {
			res.Known++
			continue
		}

		log.Printf("reconciler: adopted execution=%s rule=%s action=%s status=%s (age=%s)",
			exec.ID, exec.RuleID, exec.ActionType, exec.Status,
			now.Sub(exec.CreatedAt).Round(time.Second))
		res.Adopted++
	}

	if res.Adopted > 0 || res.Failed > 0 {
		log.Printf("reconciler: cycle complete, adopted=%d, known=%d, failed=%d", res.Adopted, res.Known, res.Failed)
	}
	return res
}
