package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

const (
	DefaultWindow    = time.Hour
	DefaultRetention = 7 * 24 * time.Hour
)

// RedisSink counts terminal executions per rule, action and status in
// fixed time buckets. Counting is best-effort and never affects dispatch.
type RedisSink struct {
	client    *redis.Client
	window    time.Duration
	retention time.Duration
}

func NewRedisSink(client *redis.Client, window, retention time.Duration) *RedisSink {
	if window <= 0 {
		window = DefaultWindow
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, window: window, retention: retention}
}

// Record writes exec and logs failures.
func (s *RedisSink) Record(ctx context.Context, exec domain.Execution) {
	if err := s.Write(ctx, exec); err != nil {
		log.Printf("analytics: execution=%s write failed: %v", exec.ID, err)
	}
}

func (s *RedisSink) Write(ctx context.Context, exec domain.Execution) error {
	if !exec.Status.IsTerminal() {
		return nil
	}

	key := buildKey(exec.RuleID.String(), exec.ActionType, exec.Status, bucketTime(exec), s.window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Count returns the counter for one bucket. Missing keys count as zero.
func (s *RedisSink) Count(ctx context.Context, ruleID, actionType string, status domain.ExecutionStatus, at time.Time) (int64, error) {
	n, err := s.client.Get(ctx, buildKey(ruleID, actionType, status, at, s.window)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func bucketTime(exec domain.Execution) time.Time {
	if exec.CompletedAt != nil {
		return *exec.CompletedAt
	}
	return exec.CreatedAt
}

func buildKey(ruleID, actionType string, status domain.ExecutionStatus, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("r:%s:a:%s:%s:%s", ruleID, actionType, status, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("200601021504")
	}
}
