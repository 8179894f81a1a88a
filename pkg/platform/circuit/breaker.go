// Package circuit provides a consecutive-failure circuit breaker.
//
// A Breaker opens after N consecutive failures and closes again after M
// consecutive successes. Callers that cannot afford to probe the primary on
// every call while open can configure a cooldown and gate calls with Allow,
// which short-circuits to the fallback until the cooldown elapses.
package circuit

import (
	"sync"
	"time"
)

// State is the circuit position.
type State int

const (
	StateClosed State = iota
	StateOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// StateChange reports a transition caused by a record call. At most one of
// Opened/Closed is set; both false means the state did not move.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker tracks consecutive outcomes for one guarded dependency.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	state        State
	failureCount int
	successCount int
	openedAt     time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive failures that open the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the consecutive successes that close an open
// circuit.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCooldown makes Allow short-circuit while the circuit is open, until
// the cooldown has elapsed since it opened (or since the last failure while
// open). Zero, the default, makes Allow always pass so every call probes
// the primary.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// New creates a closed Breaker named for the dependency it guards.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 3,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name given at construction.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the circuit is open.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// Allow reports whether a call should be attempted against the primary.
// Closed circuits always allow. Open circuits allow only once the configured
// cooldown has elapsed; without a cooldown they always allow, leaving the
// open/closed decision to the caller's use of RecordFailure's return.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed || b.cooldown <= 0 {
		return true
	}
	return time.Since(b.openedAt) >= b.cooldown
}

// RecordFailure notes a failed call. It returns whether the caller should
// take its fallback path, plus any transition this failure caused. A failure
// while open restarts the cooldown window.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0

	if b.state == StateOpen {
		b.openedAt = time.Now()
		return true, StateChange{}
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = time.Now()
		return true, StateChange{Opened: true}
	}
	return false, StateChange{}
}

// RecordSuccess notes a successful call. It returns whether the caller can
// trust the primary again, plus any transition this success caused.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			return true, StateChange{Closed: true}
		}
		return false, StateChange{}
	}

	b.failureCount = 0
	return true, StateChange{}
}

// Reset manually closes the circuit and clears all counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}
