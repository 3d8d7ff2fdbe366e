package extract

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
)

// Extractor turns document bytes into a Record.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) Result
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte, filename string) Result

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, filename string) Result {
	return f(ctx, data, filename)
}

// Strategy is one named attempt in a format's fallback chain.
type Strategy struct {
	Name      string
	Extractor Extractor
}

// Registry maps formats to ordered strategy chains. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	chains map[Format][]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{chains: make(map[Format][]Strategy)}
}

// Register replaces the chain for f. Strategies are tried in order.
func (r *Registry) Register(f Format, strategies ...Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[f] = append([]Strategy(nil), strategies...)
}

// Chain returns the strategies registered for f.
func (r *Registry) Chain(f Format) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chains[f]
}

// Formats lists registered formats in lexical order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.chains))
	for f := range r.chains {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PanicError is a strategy crash converted into a failure.
type PanicError struct {
	Strategy string
	Value    any
	Stack    string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Strategy, e.Value)
}

// run executes one strategy, converting a panic into a *PanicError result.
func (s Strategy) run(ctx context.Context, data []byte, filename string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Fail(&PanicError{Strategy: s.Name, Value: r, Stack: string(debug.Stack())})
		}
	}()
	res = s.Extractor.Extract(ctx, data, filename)
	if res.Err == nil && res.Record == nil {
		res = Fail(fmt.Errorf("%s returned no record", s.Name))
	}
	return res
}
