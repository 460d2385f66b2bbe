// Package circuitbreaker implements the circuit breaker pattern guarding the
// bridge's Conductor transports against cascading failures.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Failure threshold exceeded, requests blocked
	StateHalfOpen              // Testing if the backend recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned while the breaker is open and calls short-circuit.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies this circuit breaker in logs and metrics
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from CLOSED to OPEN
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays OPEN before permitting
	// a HALF_OPEN trial call
	RecoveryTimeout time.Duration

	// OnStateChange is called whenever the circuit state changes
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig returns a reasonable default configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		OnStateChange: func(name string, from State, to State) {
			log.Printf("[CircuitBreaker:%s] State change: %s -> %s", name, from, to)
		},
	}
}

// CircuitBreaker tracks consecutive failures against a single backend.
// While OPEN, Allow rejects without contacting the backend; after the
// recovery timeout a single HALF_OPEN trial decides whether to close or
// re-open.
type CircuitBreaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// New creates a circuit breaker in the CLOSED state.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// State returns the current state, accounting for recovery-timeout expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(time.Now())
	return cb.state
}

// Allow reports whether a call may proceed. In HALF_OPEN exactly one trial
// call is admitted; concurrent callers are rejected until it concludes.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(time.Now())
	switch cb.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
	}
	return nil
}

// OnSuccess records a terminal success for an admitted call.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
		cb.setState(StateClosed)
	}
}

// OnFailure records a terminal failure for an admitted call.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.openedAt = time.Now()
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// Trial failed: back to OPEN with a fresh recovery timer.
		cb.trialInFlight = false
		cb.openedAt = time.Now()
		cb.setState(StateOpen)
	}
}

// refresh transitions OPEN -> HALF_OPEN once the recovery timeout elapses.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.openedAt) > cb.cfg.RecoveryTimeout {
		cb.trialInFlight = false
		cb.setState(StateHalfOpen)
	}
}

// setState changes state and fires the callback. Callers must hold cb.mu.
func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	if state == StateClosed {
		cb.consecutiveFailures = 0
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, state)
	}
}
