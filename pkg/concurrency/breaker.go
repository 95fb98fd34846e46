// Package concurrency sizes the worker pool for the host it runs on and
// guards the request pull loop with a circuit breaker.
package concurrency

import (
	"sync"
	"time"
)

// State of a CircuitBreaker.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker. Default: 5
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before letting a
	// trial call through. Default: 10s
	ResetTimeout time.Duration
	// HalfOpenSuccesses consecutive trial successes close it again. Default: 1
	HalfOpenSuccesses int
}

// DefaultBreakerConfig returns the defaults used by the runner.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      10 * time.Second,
		HalfOpenSuccesses: 1,
	}
}

// CircuitBreaker stops callers from hammering a dependency that keeps
// failing. Allow reports whether a call may proceed.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	onChange  func(from, to State)
}

// NewCircuitBreaker returns a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// OnStateChange registers fn to be called after every transition. fn runs
// with the breaker unlocked.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Allow reports whether a call may go ahead. An open breaker turns
// half-open once ResetTimeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		notify := cb.transition(StateHalfOpen)
		cb.mu.Unlock()
		notify()
		return true
	}
	allowed := cb.state != StateOpen
	cb.mu.Unlock()
	return allowed
}

// Success records a successful call.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	cb.failures = 0
	notify := func() {}
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenSuccesses {
			notify = cb.transition(StateClosed)
		}
	}
	cb.mu.Unlock()
	notify()
}

// Failure records a failed call.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	cb.successes = 0
	cb.failures++
	notify := func() {}
	switch cb.state {
	case StateHalfOpen:
		notify = cb.transition(StateOpen)
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			notify = cb.transition(StateOpen)
		}
	}
	cb.mu.Unlock()
	notify()
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transition(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.mu.Unlock()
	notify()
}

// transition must be called with mu held. The returned func fires the
// change callback and must be called after unlocking.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	cb.successes = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	fn := cb.onChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(from, to) }
}
