package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

// maxIterations caps the due times published for one trigger per tick, so a
// long pause cannot turn into an unbounded burst.
const maxIterations = 1000

type Source interface {
	ScheduledTriggers(ctx context.Context) ([]domain.ScheduledTrigger, error)
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
}

// ParseFunc adapts a parse function to CronParser.
type ParseFunc func(expression string, timezone string) (CronSchedule, error)

func (f ParseFunc) Parse(expression string, timezone string) (CronSchedule, error) {
	return f(expression, timezone)
}

type Publisher interface {
	Publish(triggerType string, triggerData map[string]any, ec domain.EventContext) (domain.Event, error)
}

// MetricsSink records scheduler metrics. Methods must not block.
type MetricsSink interface {
	TickCompleted(duration time.Duration, triggersFired int, err error)
}

type Config struct {
	TickInterval time.Duration
}

type Scheduler struct {
	config    Config
	source    Source
	parser    CronParser
	publisher Publisher
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time
	lastTick  time.Time
}

func New(config Config, source Source, parser CronParser, publisher Publisher) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 30 * time.Second
	}
	return &Scheduler{
		config:    config,
		source:    source,
		parser:    parser,
		publisher: publisher,
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

// Tick publishes every activation that fell between the previous tick and
// now. It returns the number of events published.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	start := s.clock()
	now := start.UTC()
	if s.lastTick.IsZero() {
		s.lastTick = now
	}

	fired, err := s.processTick(ctx, now)
	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), fired, err)
	}
	return fired, err
}

func (s *Scheduler) processTick(ctx context.Context, now time.Time) (int, error) {
	triggers, err := s.source.ScheduledTriggers(ctx)
	if err != nil {
		return 0, fmt.Errorf("get scheduled triggers: %w", err)
	}

	fired := 0
	for _, st := range triggers {
		if !st.Enabled {
			continue
		}
		n, err := s.processTrigger(st, s.lastTick, now)
		if err != nil {
			log.Printf("scheduler: trigger=%s error: %v", st.Name, err)
		}
		fired += n
	}

	s.lastTick = now
	return fired, nil
}

func (s *Scheduler) processTrigger(st domain.ScheduledTrigger, lastTick, now time.Time) (int, error) {
	cronSched, err := s.parser.Parse(st.CronExpression, st.Timezone)
	if err != nil {
		return 0, fmt.Errorf("parse cron: %w", err)
	}

	fired := 0
	t := cronSched.Next(lastTick)
	for i := 0; i < maxIterations && !t.After(now); i++ {
		scheduledAt := t.UTC().Truncate(time.Minute)

		inWindow := (st.StartAt == nil || !scheduledAt.Before(*st.StartAt)) &&
			(st.EndAt == nil || !scheduledAt.After(*st.EndAt))
		if inWindow {
			if err := s.publish(st, scheduledAt, now); err != nil {
				log.Printf("scheduler: trigger=%s at %s error: %v", st.Name, scheduledAt.Format(time.RFC3339), err)
			} else {
				fired++
			}
		}

		t = cronSched.Next(t)
	}
	return fired, nil
}

func (s *Scheduler) publish(st domain.ScheduledTrigger, scheduledAt, now time.Time) error {
	data := make(map[string]any, len(st.TriggerData)+2)
	for k, v := range st.TriggerData {
		data[k] = v
	}
	data["schedule"] = st.Name
	data["scheduled_at"] = scheduledAt.Format(time.RFC3339)

	event, err := s.publisher.Publish(st.TriggerType, data, domain.EventContext{CreatedAt: now})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	log.Printf("scheduler: published trigger=%s event=%s scheduled_at=%s", st.Name, event.ID, scheduledAt.Format(time.RFC3339))
	return nil
}
