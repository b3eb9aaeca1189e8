// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker short-circuits a call because
// the dependency is judged unhealthy.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the health state of a circuit breaker.
type BreakerState int

const (
	// StateClosed allows all requests through.
	StateClosed BreakerState = iota
	// StateOpen rejects all requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a single probe request through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker for one downstream
// dependency. All state mutation happens inside one critical section; the
// state-change callback is invoked outside it.
//
// Every call admitted by Allow must be answered by exactly one Record.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration
	onStateChange    func(name string, from, to BreakerState)

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithOnStateChange registers a callback fired on every state transition.
func WithOnStateChange(cb func(name string, from, to BreakerState)) BreakerOption {
	return func(b *Breaker) { b.onStateChange = cb }
}

// WithBreakerClock overrides the time source, for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBreaker creates a closed breaker that opens after failureThreshold
// consecutive failures and half-opens once cooldown has elapsed.
func NewBreaker(name string, failureThreshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call may proceed. When the breaker is open and the
// cooldown has elapsed, the caller becomes the half-open probe; concurrent
// callers keep failing fast until that probe's Record lands.
func (b *Breaker) Allow() error {
	var notify func()

	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		notify = b.transition(StateHalfOpen)
		b.probeInFlight = true
		b.mu.Unlock()
		if notify != nil {
			notify()
		}
		return nil
	default: // StateHalfOpen
		if b.probeInFlight {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return nil
	}
}

// Record reports the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(success bool) {
	var notify func()

	b.mu.Lock()
	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		if success {
			b.failures = 0
			notify = b.transition(StateClosed)
		} else {
			b.openedAt = b.now()
			notify = b.transition(StateOpen)
		}
	case StateClosed:
		if success {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.failureThreshold {
				b.openedAt = b.now()
				notify = b.transition(StateOpen)
			}
		}
	case StateOpen:
		// A slow call that straddled the open transition; its outcome no
		// longer changes the verdict.
	}
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset force-closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	var notify func()

	b.mu.Lock()
	b.failures = 0
	b.probeInFlight = false
	notify = b.transition(StateClosed)
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// transition moves the breaker to a new state and returns the callback to
// fire after the lock is released, or nil if nothing changed. Callers must
// hold b.mu.
func (b *Breaker) transition(to BreakerState) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	if b.onStateChange == nil {
		return nil
	}
	cb := b.onStateChange
	name := b.name
	return func() { cb(name, from, to) }
}
