package connectivity

import "fmt"

// ErrCallTimeout is returned when a guarded call exceeds its timeout.
type ErrCallTimeout struct {
	Service string
}

func (e *ErrCallTimeout) Error() string {
	return fmt.Sprintf("connectivity: call timeout: %s", e.Service)
}

// ErrCircuitOpen is returned when the circuit breaker for a service is open,
// rejecting the call without attempting it.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Service string
	Value   any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: %s panicked: %v", e.Service, e.Value)
}
