// Package breaker implements a per-provider circuit breaker. After a run of
// consecutive provider failures the circuit opens and the dispatcher fails
// fast without consuming a credential; after a cool-off a single probe
// request decides whether the provider is back.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's position in the failure cycle.
type State int

const (
	// Closed is the normal operating state: requests flow to the provider.
	Closed State = iota
	// Open means the provider is considered down and calls fail fast.
	Open
	// HalfOpen admits a single probe request to test recovery.
	HalfOpen
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// Breaker is a goroutine-safe three-state circuit breaker keyed to one
// provider. Consecutive failures trip it open; a cool-off admits one probe.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	cooldown         time.Duration
	lastTripped      time.Time
	onStateChange    func(from, to State)

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the consecutive-failure count that trips the breaker.
// The default is 5.
func WithThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays Open before admitting a
// probe. The default is 30 seconds.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithOnStateChange registers a callback fired on every state transition.
// It runs with the breaker's mutex held, so it must not call back in.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// New creates a Breaker in the Closed state.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:            Closed,
		failureThreshold: defaultThreshold,
		cooldown:         defaultCooldown,
		nowFunc:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether the next provider call may proceed.
//
// Closed always allows. Open rejects until the cool-off has elapsed, then
// moves to HalfOpen and admits exactly one probe. HalfOpen rejects while the
// probe is outstanding.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.nowFunc().After(b.lastTripped.Add(b.cooldown)) {
			b.setState(HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return false
	default:
		return false
	}
}

// RecordSuccess clears the failure run. A successful HalfOpen probe closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == HalfOpen {
		b.setState(Closed)
	}
}

// RecordFailure extends the failure run, tripping the breaker open at the
// threshold. A failed HalfOpen probe reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++

	switch b.state {
	case Closed:
		if b.failureCount >= b.failureThreshold {
			b.setState(Open)
			b.lastTripped = b.nowFunc()
		}
	case HalfOpen:
		b.setState(Open)
		b.lastTripped = b.nowFunc()
	}
}

// CancelProbe releases the half-open probe slot when the admitted call
// resolved without a verdict on provider health (no credential available,
// caller cancelled, auth or throttling answer). The breaker returns to Open
// with its original trip time, so the next call is admitted as a fresh
// probe. A no-op in any other state.
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.setState(Open)
	}
}

// CurrentState returns the breaker state without consulting the cool-off
// timer; use Allow for dispatch decisions.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState transitions the breaker and fires the callback. Caller holds b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}
