// Package circuitbreaker stops calling an action target after repeated
// consecutive failures and lets a single probe through once the cooldown
// has elapsed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type targetState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks one circuit per target key (typically a webhook URL).
// A threshold <= 0 disables the breaker: Allow always succeeds.
type Breaker struct {
	mu        sync.Mutex
	targets   map[string]*targetState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		targets:   make(map[string]*targetState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock replaces the time source; intended for tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

func (b *Breaker) Allow(key string) error {
	if b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.targets[key]
	if !ok {
		return nil
	}

	switch s.state {
	case StateOpen:
		if b.clock().Sub(s.openedAt) >= b.cooldown {
			s.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		// one probe at a time
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.targets[key]; ok {
		s.state = StateClosed
		s.consecutiveFailures = 0
	}
}

func (b *Breaker) RecordFailure(key string) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.targets[key]
	if !ok {
		s = &targetState{}
		b.targets[key] = s
	}

	s.consecutiveFailures++
	if s.state == StateHalfOpen || s.consecutiveFailures >= b.threshold {
		s.state = StateOpen
		s.openedAt = b.clock()
	}
}

// State returns the current circuit state for key without side effects.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.targets[key]; ok {
		return s.state
	}
	return StateClosed
}
