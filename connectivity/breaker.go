package connectivity

import (
	"context"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected without an attempt
	BreakerHalfOpen                     // probe calls decide whether to close
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreaker tracks the health of one collaborator (document store,
// webhook endpoint, antivirus daemon). Safe for concurrent use.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	openedAt    time.Time
	threshold   int
	cooldown    time.Duration
	probes      int
	now         func() time.Time
	onChange    func(from, to BreakerState)
	transitions int
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets how many consecutive failures open the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerResetTimeout sets how long an open breaker rejects calls
// before letting probes through.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// WithBreakerHalfOpenMax sets how many successful probes close the breaker.
func WithBreakerHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.probes = n }
}

// WithBreakerClock replaces time.Now.
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// WithBreakerOnChange registers a callback for every state transition. It
// runs with the breaker locked and must not call back into it.
func WithBreakerOnChange(fn func(from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker opens after 5 consecutive failures, probes after 30s
// and closes after 2 successful probes.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold: 5,
		cooldown:  30 * time.Second,
		probes:    2,
		now:       time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	State       string `json:"state"`
	Failures    int    `json:"consecutive_failures"`
	Transitions int    `json:"transitions"`
}

// Snapshot reports the current state and counters.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cooldownElapsed()
	return BreakerSnapshot{State: cb.state.String(), Failures: cb.failures, Transitions: cb.transitions}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cooldownElapsed()
	return cb.state
}

// Allow reports whether a call may be attempted now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.cooldownElapsed()
	return cb.state != BreakerOpen
}

// RecordSuccess feeds a successful call back into the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state != BreakerHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.probes {
		cb.moveTo(BreakerClosed)
	}
}

// RecordFailure feeds a failed call back into the breaker. A failed probe
// reopens it immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.threshold {
			cb.moveTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.moveTo(BreakerOpen)
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.moveTo(BreakerClosed)
}

// cooldownElapsed moves an open breaker to half-open once its cooldown has
// passed. mu must be held.
func (cb *CircuitBreaker) cooldownElapsed() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		cb.moveTo(BreakerHalfOpen)
	}
}

// moveTo changes state and notifies. mu must be held.
func (cb *CircuitBreaker) moveTo(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.successes = 0
	cb.transitions++
	if to == BreakerOpen {
		cb.openedAt = cb.now()
	}
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// WithCircuitBreaker rejects calls with ErrCircuitOpen while cb is open
// and feeds every outcome back into cb.
func WithCircuitBreaker(cb *CircuitBreaker, service string) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			if !cb.Allow() {
				return &ErrCircuitOpen{Service: service}
			}
			err := next(ctx)
			if err != nil {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			return err
		}
	}
}
