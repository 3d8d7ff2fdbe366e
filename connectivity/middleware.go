// Package connectivity guards calls to the pipeline's external
// collaborators: a hung or failing service degrades into a returned error
// within a bounded time instead of stalling the document.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"
)

// Call is one attempt at a collaborator operation.
type Call func(ctx context.Context) error

// Middleware wraps a Call with cross-cutting behaviour.
type Middleware func(next Call) Call

// Chain composes middlewares left-to-right: the first middleware is the
// outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Call) Call {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithTimeout bounds each attempt to d. The attempt runs in its own
// goroutine so a collaborator that ignores its context still cannot block
// the caller past d; that goroutine is abandoned. Zero disables the bound.
func WithTimeout(d time.Duration, service string) Middleware {
	return func(next Call) Call {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- next(ctx) }()
			select {
			case err := <-done:
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
					return &ErrCallTimeout{Service: service}
				}
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return &ErrCallTimeout{Service: service}
				}
				return ctx.Err()
			}
		}
	}
}

// WithRetry retries failed calls with exponential backoff starting at
// baseBackoff. Circuit-open errors and caller cancellation are not retried.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				err := next(ctx)
				if err == nil {
					return nil
				}
				lastErr = err

				if ctx.Err() != nil {
					return lastErr
				}
				var open *ErrCircuitOpen
				if errors.As(err, &open) {
					return err
				}

				if attempt < maxRetries {
					wait := baseBackoff * (1 << uint(attempt))
					if logger != nil {
						logger.WarnContext(ctx, "retrying call",
							"attempt", attempt+1,
							"max_retries", maxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return lastErr
					case <-time.After(wait):
					}
				}
			}
			return lastErr
		}
	}
}

// Recovery converts a panic in the wrapped call into *ErrPanic.
func Recovery(service string, logger *slog.Logger) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					if logger != nil {
						logger.ErrorContext(ctx, "collaborator panic recovered",
							"service", service,
							"panic", r,
							"stack", string(debug.Stack()))
					}
					err = &ErrPanic{Service: service, Value: r}
				}
			}()
			return next(ctx)
		}
	}
}
