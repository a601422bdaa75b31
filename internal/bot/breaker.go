package bot

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half-open"
)

// CircuitBreaker stops calling the messenger after maxFailures consecutive
// failures. Once resetTime has passed a single trial call is let through;
// other callers keep getting ErrCircuitOpen until that trial finishes.
type CircuitBreaker struct {
	maxFailures int
	resetTime   time.Duration
	failures    int
	lastFailure time.Time
	state       string
	trial       bool
	mu          sync.Mutex
	now         func() time.Time
}

func NewCircuitBreaker(maxFailures int, resetTime time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		resetTime:   resetTime,
		state:       stateClosed,
		now:         time.Now,
	}
}

func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.enter(); err != nil {
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateHalfOpen {
		cb.trial = false
	}
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == stateHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = stateOpen
		}
		return err
	}

	cb.failures = 0
	cb.state = stateClosed
	return nil
}

func (cb *CircuitBreaker) enter() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTime {
			return ErrCircuitOpen
		}
		cb.state = stateHalfOpen
		cb.trial = true
	case stateHalfOpen:
		if cb.trial {
			return ErrCircuitOpen
		}
		cb.trial = true
	}
	return nil
}

func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
