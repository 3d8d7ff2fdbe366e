package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// Guard bundles the protections applied to one collaborator: a circuit
// breaker, a per-attempt timeout, optional retries and panic recovery.
type Guard struct {
	service string
	breaker *CircuitBreaker
	timeout time.Duration
	retries int
	backoff time.Duration
	logger  *slog.Logger
	call    Middleware
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardBreaker replaces the default breaker.
func WithGuardBreaker(cb *CircuitBreaker) GuardOption {
	return func(g *Guard) { g.breaker = cb }
}

// WithGuardTimeout sets the per-attempt timeout. Default 10s.
func WithGuardTimeout(d time.Duration) GuardOption {
	return func(g *Guard) { g.timeout = d }
}

// WithGuardRetries sets retry count and initial backoff. Default: no retry.
func WithGuardRetries(n int, backoff time.Duration) GuardOption {
	return func(g *Guard) { g.retries, g.backoff = n, backoff }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// NewGuard returns a Guard for service.
func NewGuard(service string, opts ...GuardOption) *Guard {
	g := &Guard{
		service: service,
		timeout: 10 * time.Second,
		backoff: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.breaker == nil {
		g.breaker = NewCircuitBreaker(WithBreakerOnChange(func(from, to BreakerState) {
			g.logger.Warn("connectivity: breaker state", "service", service, "from", from.String(), "to", to.String())
		}))
	}
	g.call = Chain(
		WithCircuitBreaker(g.breaker, service),
		WithRetry(g.retries, g.backoff, g.logger),
		WithTimeout(g.timeout, service),
		Recovery(service, g.logger),
	)
	return g
}

// Do runs fn under the guard's protections.
func (g *Guard) Do(ctx context.Context, fn Call) error {
	return g.call(fn)(ctx)
}

// Service returns the guarded collaborator's name.
func (g *Guard) Service() string { return g.service }

// Breaker exposes the guard's circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }
