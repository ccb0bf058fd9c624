// Package cron parses the five-field and descriptor (@hourly, @daily, ...)
// expressions used by scheduled triggers.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTimezone applies when a schedule names none.
const DefaultTimezone = "UTC"

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Validate reports whether expression and timezone would parse.
func (p *Parser) Validate(expression string, timezone string) error {
	_, err := p.Parse(expression, timezone)
	return err
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

// Next returns the first activation strictly after the given time, expressed
// in the schedule's location.
func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
