// Package seed loads rules and scheduled triggers from a YAML file.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/actions"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
)

// ruleNamespace derives stable rule ids from rule names when the file omits them.
var ruleNamespace = uuid.MustParse("6f1c2f3e-8a4b-4c1d-9e55-2b7f0d4a9c10")

// File models the rules file.
type File struct {
	Rules     []Rule     `yaml:"rules"`
	Schedules []Schedule `yaml:"schedules"`
}

type Rule struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	TriggerType string         `yaml:"trigger_type"`
	Active      *bool          `yaml:"active"`
	Conditions  map[string]any `yaml:"conditions"`
	Actions     []Action       `yaml:"actions"`
}

type Action struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

type Schedule struct {
	Name        string         `yaml:"name"`
	TriggerType string         `yaml:"trigger_type"`
	Cron        string         `yaml:"cron"`
	Timezone    string         `yaml:"timezone"`
	TriggerData map[string]any `yaml:"trigger_data"`
	StartAt     *time.Time     `yaml:"start_at"`
	EndAt       *time.Time     `yaml:"end_at"`
	Enabled     *bool          `yaml:"enabled"`
}

// CronValidator checks a cron expression in a timezone.
type CronValidator interface {
	Validate(expression string, timezone string) error
}

// ActionResolver looks up registered action types.
type ActionResolver interface {
	Resolve(actionType string) (actions.Action, error)
}

// RuleStore persists rules.
type RuleStore interface {
	UpsertRule(ctx context.Context, rule domain.Rule) error
}

// Subscriber is the subset of the subscription registry used by Apply.
type Subscriber interface {
	List(triggerType string) []domain.Subscription
	Subscribe(ctx context.Context, triggerType string, ruleID uuid.UUID, conditions map[string]any) (uuid.UUID, error)
}

// FromFile reads a rules file from the given path.
func FromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses a rules file. Unknown keys are rejected.
func FromYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid rules yaml: %w", err)
	}
	return &f, nil
}

// Validate checks structure, action types and cron expressions. All problems
// are reported together.
func (f *File) Validate(parser CronValidator, resolver ActionResolver) error {
	var errs []error

	names := make(map[string]bool)
	for i, r := range f.Rules {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if r.Name == "" && r.ID == "" {
			errs = append(errs, fmt.Errorf("rule %s: name or id is required", label))
		}
		if r.Name != "" {
			if names[r.Name] {
				errs = append(errs, fmt.Errorf("rule %s: duplicate name", label))
			}
			names[r.Name] = true
		}
		if r.ID != "" {
			if _, err := uuid.Parse(r.ID); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: invalid id: %w", label, err))
			}
		}
		if r.TriggerType == "" {
			errs = append(errs, fmt.Errorf("rule %s: trigger_type is required", label))
		}
		if len(r.Actions) == 0 {
			errs = append(errs, fmt.Errorf("rule %s: at least one action is required", label))
		}
		for j, a := range r.Actions {
			if a.Type == "" {
				errs = append(errs, fmt.Errorf("rule %s action %d: type is required", label, j))
				continue
			}
			if resolver != nil {
				if _, err := resolver.Resolve(a.Type); err != nil {
					errs = append(errs, fmt.Errorf("rule %s action %d: %w", label, j, err))
				}
			}
		}
	}

	for i, s := range f.Schedules {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if s.TriggerType == "" {
			errs = append(errs, fmt.Errorf("schedule %s: trigger_type is required", label))
		}
		if s.Cron == "" {
			errs = append(errs, fmt.Errorf("schedule %s: cron is required", label))
		} else if parser != nil {
			if err := parser.Validate(s.Cron, s.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("schedule %s: %w", label, err))
			}
		}
		if s.StartAt != nil && s.EndAt != nil && !s.EndAt.After(*s.StartAt) {
			errs = append(errs, fmt.Errorf("schedule %s: end_at must be after start_at", label))
		}
	}

	return errors.Join(errs...)
}

// DomainRules converts the file's rules, stamping created/updated times.
func (f *File) DomainRules(now time.Time) []domain.Rule {
	out := make([]domain.Rule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rule := domain.Rule{
			ID:          r.ruleID(),
			Name:        r.Name,
			TriggerType: r.TriggerType,
			Active:      r.Active == nil || *r.Active,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		for _, a := range r.Actions {
			rule.Actions = append(rule.Actions, domain.RuleAction{
				ActionType:   a.Type,
				ActionConfig: a.Config,
			})
		}
		out = append(out, rule)
	}
	return out
}

// ScheduledTriggers implements scheduler.Source.
func (f *File) ScheduledTriggers(_ context.Context) ([]domain.ScheduledTrigger, error) {
	out := make([]domain.ScheduledTrigger, 0, len(f.Schedules))
	for _, s := range f.Schedules {
		out = append(out, domain.ScheduledTrigger{
			Name:           s.Name,
			TriggerType:    s.TriggerType,
			CronExpression: s.Cron,
			Timezone:       s.Timezone,
			TriggerData:    s.TriggerData,
			StartAt:        s.StartAt,
			EndAt:          s.EndAt,
			Enabled:        s.Enabled == nil || *s.Enabled,
		})
	}
	return out, nil
}

// Apply upserts every rule and subscribes each active rule to its trigger
// type unless an active subscription for it already exists. Subscriber must
// already reflect persisted subscriptions, so re-applying is a no-op.
func (f *File) Apply(ctx context.Context, store RuleStore, subs Subscriber, now time.Time) error {
	for i, rule := range f.DomainRules(now) {
		if err := store.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
		}
		if !rule.Active || subscribed(subs, rule) {
			continue
		}
		id, err := subs.Subscribe(ctx, rule.TriggerType, rule.ID, f.Rules[i].Conditions)
		if err != nil {
			return fmt.Errorf("subscribe rule %s: %w", rule.ID, err)
		}
		log.Printf("seed: subscribed rule=%s name=%q trigger_type=%s subscription_id=%s",
			rule.ID, rule.Name, rule.TriggerType, id)
	}
	return nil
}

func subscribed(subs Subscriber, rule domain.Rule) bool {
	for _, sub := range subs.List(rule.TriggerType) {
		if sub.RuleID == rule.ID && sub.Active {
			return true
		}
	}
	return false
}

func (r Rule) ruleID() uuid.UUID {
	if r.ID != "" {
		if id, err := uuid.Parse(r.ID); err == nil {
			return id
		}
	}
	return uuid.NewSHA1(ruleNamespace, []byte(r.Name))
}
