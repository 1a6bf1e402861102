// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package breaker implements a circuit breaker for calls to external
// services. One Breaker guards one logical dependency; callers that
// talk to two independent services instantiate two breakers.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without
// invoking the wrapped function.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position in the closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds breaker tuning knobs.
type Config struct {
	// FailureThreshold is the number of consecutive failures that
	// trips the breaker open. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before letting
	// a probe call through. Default 60s.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls caps concurrent probe calls while half-open.
	// Default 1.
	HalfOpenMaxCalls int
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is a closed/open/half-open state machine around an external
// dependency. All state transitions happen inside Call, under the
// breaker's own lock; callers never mutate state directly.
type Breaker struct {
	name string
	cfg  Config

	mu                     sync.Mutex
	state                  State
	consecutiveFailures    int
	lastFailureAt          time.Time
	halfOpenProbesInFlight int

	// now is swappable in tests.
	now func() time.Time
}

// New creates a breaker guarding the named dependency. Zero config
// fields fall back to defaults.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the name of the guarded dependency.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the breaker's current state, accounting for an
// elapsed reset timeout (an open breaker whose timeout has passed
// reports half-open readiness on its next Call, but State still says
// open until a probe actually goes through).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call runs fn through the breaker. It returns ErrOpen without
// invoking fn when the breaker is open (or the half-open probe budget
// is exhausted), otherwise it returns fn's error and updates the
// state machine from the outcome.
func (b *Breaker) Call(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	b.afterCall(err)
	return err
}

// beforeCall decides whether the call may proceed and performs the
// open -> half-open transition when the reset timeout has elapsed.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.cfg.ResetTimeout {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.state = StateHalfOpen
		b.halfOpenProbesInFlight = 1
		return nil

	case StateHalfOpen:
		if b.halfOpenProbesInFlight >= b.cfg.HalfOpenMaxCalls {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.halfOpenProbesInFlight++
		return nil
	}

	return nil
}

// afterCall records the outcome of a call that was allowed through.
func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err != nil {
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.state = StateOpen
				b.lastFailureAt = b.now()
			}
		} else {
			b.consecutiveFailures = 0
		}

	case StateHalfOpen:
		b.halfOpenProbesInFlight--
		if err != nil {
			// A failed probe reopens the breaker and restarts the
			// reset clock.
			b.state = StateOpen
			b.lastFailureAt = b.now()
			b.halfOpenProbesInFlight = 0
		} else {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.halfOpenProbesInFlight = 0
		}

	case StateOpen:
		// A call that started half-open may report after another
		// probe already reopened the breaker; its failure adds
		// nothing and its success is stale. Ignore.
	}
}
