package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventPublished(triggerType string)                                         {}
func (n *NoopSink) EventProcessed(matched int, duration time.Duration)                        {}
func (n *NoopSink) EventQueueDepthUpdate(depth int)                                           {}
func (n *NoopSink) ActiveSubscriptionsUpdate(count int)                                       {}
func (n *NoopSink) ExecutionEnqueued(actionType string)                                       {}
func (n *NoopSink) ExecutionStarted(actionType string)                                        {}
func (n *NoopSink) ExecutionFinished(actionType, outcome, errorClass string, d time.Duration) {}
func (n *NoopSink) RetryScheduled(delay time.Duration)                                        {}
func (n *NoopSink) ExecutionsRunningUpdate(running int)                                       {}
func (n *NoopSink) ExecutionsPendingUpdate(pending int)                                       {}
func (n *NoopSink) PersistenceError(op string)                                                {}
func (n *NoopSink) TickCompleted(duration time.Duration, triggersFired int, err error)        {}
func (n *NoopSink) OrphanedExecutionsUpdate(count int)                                        {}
