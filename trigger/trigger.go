// Package trigger fires downstream actions once a document has been
// processed: callbacks registered by the caller, then the built-in rules
// keyed on the document's category and type.
//
// Each trigger is isolated. An error or a panic is reported on that
// trigger's Fired entry and never stops its siblings.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"
)

// maxResultLen bounds the stringified result kept per trigger.
const maxResultLen = 200

// Subject is what a trigger sees of the processed document.
type Subject struct {
	FileID       string
	Filename     string
	DocumentType string
	Category     string
	// Record is the JSON-serialisable view of the pipeline run.
	Record any
}

// Func is a registered trigger. Its result is stringified into Fired.Result.
type Func func(ctx context.Context, s Subject) (any, error)

// Fired reports one trigger invocation.
type Fired struct {
	Trigger string `json:"trigger"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

type entry struct {
	name string
	fn   Func
}

// Registry holds named triggers in registration order. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds fn under name. Registering an existing name replaces it in place.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].name == name {
			r.entries[i].fn = fn
			return
		}
	}
	r.entries = append(r.entries, entry{name, fn})
}

// Names lists registered triggers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.name
	}
	return out
}

// Fire runs every registered trigger, then the built-in rules.
func (r *Registry) Fire(ctx context.Context, s Subject) []Fired {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	out := make([]Fired, 0, len(entries)+3)
	for _, e := range entries {
		f := r.invoke(ctx, e, s)
		if !f.Success {
			r.logger.Warn("trigger: failed", "trigger", e.name, "file_id", s.FileID, "error", f.Error)
		}
		out = append(out, f)
	}
	for _, b := range Builtins(s) {
		r.logger.Info("trigger: builtin", "trigger", b.Trigger, "file_id", s.FileID, "detail", b.Detail)
		out = append(out, b)
	}
	return out
}

func (r *Registry) invoke(ctx context.Context, e entry, s Subject) (f Fired) {
	f.Trigger = e.name
	defer func() {
		if p := recover(); p != nil {
			f.Success = false
			f.Result = ""
			f.Error = fmt.Sprintf("panic: %v", p)
		}
	}()
	res, err := e.fn(ctx, s)
	if err != nil {
		f.Error = err.Error()
		return f
	}
	f.Success = true
	f.Result = truncate(stringify(res), maxResultLen)
	return f
}

// Builtins returns the fixed rules that apply to s.
func Builtins(s Subject) []Fired {
	var out []Fired
	switch s.Category {
	case "financial":
		out = append(out, Fired{Trigger: "update_financial_forecast", Success: true, Detail: "Queued"})
	case "compliance":
		out = append(out, Fired{Trigger: "compliance_alert", Success: true, Detail: "Alert sent"})
	}
	if s.DocumentType == "invoice" {
		out = append(out, Fired{Trigger: "accounts_payable_api", Success: true, Detail: "Invoice logged"})
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
