// Package script hosts externally supplied scripted logic behind the narrow
// ScriptHost capability: predicate sources returning a boolean and response
// sources returning a response mapping. The reference host embeds the
// expr-lang evaluator; the matching core never learns how sources run, so an
// out-of-process host can replace this one without touching the core.
package script

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/getstubd/stubd/pkg/imposter"
)

// Host evaluates expr-lang sources against requests. Compiled programs are
// cached by source text, so stubs reusing a script pay compilation once.
type Host struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewHost creates an expression host with an empty program cache.
func NewHost() *Host {
	return &Host{
		programs: make(map[string]*vm.Program),
	}
}

// MatchesRequest evaluates a scripted predicate. The source is an expression
// over `request` (the normalized request mapping) that must yield a boolean.
func (h *Host) MatchesRequest(source string, req imposter.Request, log *slog.Logger) (bool, error) {
	program, err := h.compile("predicate", source, expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := vm.Run(program, h.env(req))
	if err != nil {
		return false, fmt.Errorf("predicate script failed: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("predicate script returned %T, expected bool", out)
	}
	log.Debug("inject predicate evaluated", "matched", matched)
	return matched, nil
}

// ProduceResponse evaluates a scripted response routine. The source is an
// expression over `request` that must yield a mapping; the mapping becomes
// the response payload.
func (h *Host) ProduceResponse(source string, req imposter.Request, log *slog.Logger) (imposter.Response, error) {
	program, err := h.compile("response", source)
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(program, h.env(req))
	if err != nil {
		return nil, fmt.Errorf("response script failed: %w", err)
	}
	payload, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response script returned %T, expected a response object", out)
	}
	log.Debug("inject response produced", "fields", len(payload))
	return imposter.Response(payload), nil
}

// env builds the evaluation environment for one request.
func (h *Host) env(req imposter.Request) map[string]any {
	return map[string]any{
		"request": map[string]any(req),
	}
}

// compile returns the cached program for the source, compiling on first use.
// The kind participates in the cache key because predicate programs carry an
// expected-type constraint that response programs do not.
func (h *Host) compile(kind, source string, opts ...expr.Option) (*vm.Program, error) {
	key := kind + "\x00" + source

	h.mu.RLock()
	program, ok := h.programs[key]
	h.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, fmt.Errorf("compiling %s script: %w", kind, err)
	}

	h.mu.Lock()
	h.programs[key] = program
	h.mu.Unlock()
	return program, nil
}
