package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState string

const (
	// BreakerClosed lets calls through and counts consecutive failures.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits a limited number of trial calls.
	BreakerHalfOpen BreakerState = "half_open"
)

var (
	// ErrBreakerOpen is returned by Allow while the circuit is open.
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrBreakerSaturated is returned when every half-open trial slot is taken.
	ErrBreakerSaturated = errors.New("circuit breaker trial slots exhausted")
	// ErrInvalidBreakerConfig wraps configuration validation failures.
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open the circuit.
	MaxFailures uint32 `mapstructure:"max_failures"`
	// CoolDown is how long an open circuit waits before admitting trials.
	CoolDown time.Duration `mapstructure:"cool_down"`
	// MaxTrials caps concurrent calls while half-open.
	MaxTrials uint32 `mapstructure:"max_trials"`
}

// Validate reports the first invalid field.
func (c BreakerConfig) Validate() error {
	switch {
	case c.MaxFailures == 0:
		return errors.New("max_failures must be greater than 0")
	case c.CoolDown <= 0:
		return errors.New("cool_down must be greater than 0")
	case c.MaxTrials == 0:
		return errors.New("max_trials must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig returns the configuration used when none is supplied.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		CoolDown:    60 * time.Second,
		MaxTrials:   1,
	}
}

// CircuitBreaker stops calling a collaborator that keeps failing. It is safe
// for concurrent use.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures uint32
	openedAt time.Time
	trials   uint32
}

// NewCircuitBreaker validates cfg and returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBreakerConfig, err)
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: BreakerClosed}, nil
}

// Allow reports whether a call may proceed. A nil error must be followed by
// exactly one RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.CoolDown {
			return ErrBreakerOpen
		}
		cb.state = BreakerHalfOpen
		cb.trials = 1
		return nil
	case BreakerHalfOpen:
		if cb.trials >= cb.cfg.MaxTrials {
			return ErrBreakerSaturated
		}
		cb.trials++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.trials = 0
}

// RecordFailure counts a failure and opens the circuit once the threshold is
// reached. Any failure while half-open reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
		cb.trials = 0
	}
}

// State returns the current state without transitioning.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
