package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required when STORE_DRIVER=postgres",
			})
		}
	case StoreDriverMemory, "":
	default:
		errs = append(errs, ValidationError{
			Field:   "STORE_DRIVER",
			Message: fmt.Sprintf("must be 'postgres' or 'memory', got %q", cfg.StoreDriver),
		})
	}

	positive := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"EXECUTION_TICK_INTERVAL", cfg.ExecutionTickIntervalStr},
		{"EVENT_DRAIN_INTERVAL", cfg.EventDrainIntervalStr},
		{"DRAIN_TIMEOUT", cfg.DrainTimeoutStr},
		{"ANALYTICS_WINDOW", cfg.AnalyticsWindowStr},
		{"ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
		{"SCHEDULE_TICK_INTERVAL", cfg.ScheduleTickIntervalStr},
	}
	for _, p := range positive {
		if p.value == "" {
			continue
		}
		if msg := checkDuration(p.value, false); msg != "" {
			errs = append(errs, ValidationError{Field: p.field, Message: msg})
		}
	}

	if cfg.HandlerTimeoutStr != "" {
		if msg := checkDuration(cfg.HandlerTimeoutStr, true); msg != "" {
			errs = append(errs, ValidationError{Field: "HANDLER_TIMEOUT", Message: msg})
		}
	}

	if cfg.RetryBackoffStr != "" {
		backoff, err := ParseBackoff(cfg.RetryBackoffStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "RETRY_BACKOFF",
				Message: fmt.Sprintf("invalid duration list: %v", err),
			})
		} else {
			for _, d := range backoff {
				if d < 0 {
					errs = append(errs, ValidationError{Field: "RETRY_BACKOFF", Message: "durations must not be negative"})
					break
				}
			}
			if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 {
				if window := RetryWindow(backoff, cfg.MaxRetries); cfg.ReconcileThreshold <= window {
					errs = append(errs, ValidationError{
						Field:   "RECONCILE_THRESHOLD",
						Message: fmt.Sprintf("must exceed the retry window %v", window),
					})
				}
			}
		}
	}

	if cfg.MaxConcurrent < 1 {
		errs = append(errs, ValidationError{Field: "MAX_CONCURRENT", Message: "must be at least 1"})
	}
	if cfg.MaxRetries < 1 {
		errs = append(errs, ValidationError{Field: "MAX_RETRIES", Message: "must be at least 1"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// RetryWindow is the total backoff delay an execution can spend across
// maxRetries attempts.
func RetryWindow(backoff []time.Duration, maxRetries int) time.Duration {
	if len(backoff) == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < maxRetries-1; i++ {
		if i < len(backoff) {
			total += backoff[i]
		} else {
			total += backoff[len(backoff)-1]
		}
	}
	return total
}

func checkDuration(s string, allowZero bool) string {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Sprintf("invalid duration: %v", err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return "must be positive"
	}
	return ""
}
