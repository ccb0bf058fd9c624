package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// EventBus metrics
	eventsPublishedTotal *prometheus.CounterVec
	eventsProcessedTotal prometheus.Counter
	subscriptionsMatched prometheus.Counter
	eventProcessDuration prometheus.Histogram
	eventQueueDepth      prometheus.Gauge

	// Registry metrics
	activeSubscriptions prometheus.Gauge

	// Dispatcher metrics
	executionsEnqueuedTotal *prometheus.CounterVec
	executionsStartedTotal  *prometheus.CounterVec
	executionsFinishedTotal *prometheus.CounterVec
	handlerDuration         prometheus.Histogram
	retryDelay              prometheus.Histogram
	executionsRunning       prometheus.Gauge
	executionsPending       prometheus.Gauge
	persistenceErrorsTotal  *prometheus.CounterVec

	// Scheduler metrics
	ticksTotal         prometheus.Counter
	tickErrorsTotal    prometheus.Counter
	triggersFiredTotal prometheus.Counter
	tickDuration       prometheus.Histogram
	orphanedExecutions prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEventBusMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initSchedulerMetrics(reg)
	return s
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.eventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_eventbus_events_published_total",
		Help: "Total number of events published, by trigger type.",
	}, []string{"trigger_type"})
	s.eventsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_eventbus_events_processed_total",
		Help: "Total number of events drained and matched.",
	})
	s.subscriptionsMatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_eventbus_subscriptions_matched_total",
		Help: "Total number of subscription matches across all processed events.",
	})
	s.eventProcessDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_eventbus_event_process_duration_seconds",
		Help:    "Time spent matching one event and enqueueing its executions.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	s.eventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_eventbus_queue_depth",
		Help: "Current number of events waiting to be drained.",
	})
	s.activeSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_registry_active_subscriptions",
		Help: "Current number of active subscriptions.",
	})

	s.register(reg, s.eventsPublishedTotal, "automation_eventbus_events_published_total")
	s.register(reg, s.eventsProcessedTotal, "automation_eventbus_events_processed_total")
	s.register(reg, s.subscriptionsMatched, "automation_eventbus_subscriptions_matched_total")
	s.register(reg, s.eventProcessDuration, "automation_eventbus_event_process_duration_seconds")
	s.register(reg, s.eventQueueDepth, "automation_eventbus_queue_depth")
	s.register(reg, s.activeSubscriptions, "automation_registry_active_subscriptions")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.executionsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_dispatcher_executions_enqueued_total",
		Help: "Total number of executions enqueued, by action type.",
	}, []string{"action_type"})
	s.executionsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_dispatcher_executions_started_total",
		Help: "Total number of handler invocations, by action type.",
	}, []string{"action_type"})
	s.executionsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_dispatcher_executions_finished_total",
		Help: "Total number of handler invocation results.",
	}, []string{"action_type", "outcome", "error_class"})
	s.handlerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_dispatcher_handler_duration_seconds",
		Help:    "Action handler latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.retryDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_dispatcher_retry_delay_seconds",
		Help:    "Backoff delay applied before a retry is re-queued.",
		Buckets: []float64{0, 1, 2, 5, 10, 30, 60, 300},
	})
	s.executionsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_dispatcher_executions_running",
		Help: "Number of executions currently occupying a worker slot.",
	})
	s.executionsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_dispatcher_executions_pending",
		Help: "Number of executions waiting in the queue, including delayed retries.",
	})
	s.persistenceErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_persistence_errors_total",
		Help: "Total number of record store writes that failed and were skipped.",
	}, []string{"op"})

	s.register(reg, s.executionsEnqueuedTotal, "automation_dispatcher_executions_enqueued_total")
	s.register(reg, s.executionsStartedTotal, "automation_dispatcher_executions_started_total")
	s.register(reg, s.executionsFinishedTotal, "automation_dispatcher_executions_finished_total")
	s.register(reg, s.handlerDuration, "automation_dispatcher_handler_duration_seconds")
	s.register(reg, s.retryDelay, "automation_dispatcher_retry_delay_seconds")
	s.register(reg, s.executionsRunning, "automation_dispatcher_executions_running")
	s.register(reg, s.executionsPending, "automation_dispatcher_executions_pending")
	s.register(reg, s.persistenceErrorsTotal, "automation_persistence_errors_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_scheduler_ticks_total",
		Help: "Total number of scheduled-trigger ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_scheduler_tick_errors_total",
		Help: "Total number of scheduled-trigger tick errors.",
	})
	s.triggersFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automation_scheduler_triggers_fired_total",
		Help: "Total number of events published by scheduled triggers.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automation_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1},
	})
	s.orphanedExecutions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automation_reconciler_orphaned_executions",
		Help: "Orphaned executions found in the last reconciliation cycle.",
	})

	s.register(reg, s.ticksTotal, "automation_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "automation_scheduler_tick_errors_total")
	s.register(reg, s.triggersFiredTotal, "automation_scheduler_triggers_fired_total")
	s.register(reg, s.tickDuration, "automation_scheduler_tick_duration_seconds")
	s.register(reg, s.orphanedExecutions, "automation_reconciler_orphaned_executions")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// EventBus metrics implementation

func (s *PrometheusSink) EventPublished(triggerType string) {
	s.eventsPublishedTotal.WithLabelValues(triggerType).Inc()
}

func (s *PrometheusSink) EventProcessed(matched int, duration time.Duration) {
	s.eventsProcessedTotal.Inc()
	s.subscriptionsMatched.Add(float64(matched))
	s.eventProcessDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) EventQueueDepthUpdate(depth int) {
	s.eventQueueDepth.Set(float64(depth))
}

func (s *PrometheusSink) ActiveSubscriptionsUpdate(count int) {
	s.activeSubscriptions.Set(float64(count))
}

// Dispatcher metrics implementation

func (s *PrometheusSink) ExecutionEnqueued(actionType string) {
	s.executionsEnqueuedTotal.WithLabelValues(actionType).Inc()
}

func (s *PrometheusSink) ExecutionStarted(actionType string) {
	s.executionsStartedTotal.WithLabelValues(actionType).Inc()
}

func (s *PrometheusSink) ExecutionFinished(actionType, outcome, errorClass string, duration time.Duration) {
	s.executionsFinishedTotal.WithLabelValues(actionType, outcome, errorClass).Inc()
	s.handlerDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryScheduled(delay time.Duration) {
	s.retryDelay.Observe(delay.Seconds())
}

func (s *PrometheusSink) ExecutionsRunningUpdate(running int) {
	s.executionsRunning.Set(float64(running))
}

func (s *PrometheusSink) ExecutionsPendingUpdate(pending int) {
	s.executionsPending.Set(float64(pending))
}

func (s *PrometheusSink) PersistenceError(op string) {
	s.persistenceErrorsTotal.WithLabelValues(op).Inc()
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickCompleted(duration time.Duration, triggersFired int, err error) {
	s.ticksTotal.Inc()
	s.tickDuration.Observe(duration.Seconds())
	s.triggersFiredTotal.Add(float64(triggersFired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) OrphanedExecutionsUpdate(count int) {
	s.orphanedExecutions.Set(float64(count))
}
