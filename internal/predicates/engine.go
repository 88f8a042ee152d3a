// Package predicates implements the predicate evaluation engine: a recursive,
// type-open rule language over nested request data.
//
// A predicate node is a mapping from operator name to operator argument. A key
// that is not a recognized operator but carries a mapping argument is a nested
// field selector, extending the field path by dot-composition. Every key of a
// node is evaluated — never short-circuited — so configuration mistakes in one
// key surface even when sibling keys already settled the outcome. The same
// exhaustive pass doubles as the dry-run validation mechanism.
package predicates

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/getstubd/stubd/pkg/imposter"
)

// evalFunc evaluates one operator against the request field at the given
// dot-composed path. An empty path addresses the whole request.
type evalFunc func(e *Engine, field string, arg any, req imposter.Request, log *slog.Logger) (bool, error)

// operators is the static registry of recognized operator names.
// Unknown names are a typed error, not a silent no-op.
var operators map[string]evalFunc

func init() {
	operators = map[string]evalFunc{
		"equals":     evalEquals,
		"deepEquals": evalDeepEquals,
		"contains":   evalContains,
		"startsWith": evalStartsWith,
		"endsWith":   evalEndsWith,
		"matches":    evalMatches,
		"exists":     evalExists,
		"jsonpath":   evalJSONPath,
		"xpath":      evalXPath,
		"not":        evalNot,
		"and":        evalAnd,
		"or":         evalOr,
		"inject":     evalInject,
	}
}

// Engine evaluates predicate trees against requests. It is stateless apart
// from the optional script host backing inject predicates, so one engine is
// safe for concurrent use across stubs and imposters.
type Engine struct {
	scripts imposter.ScriptHost
}

// Option configures an Engine.
type Option func(*Engine)

// WithScriptHost wires the capability that executes inject predicates.
func WithScriptHost(h imposter.ScriptHost) Option {
	return func(e *Engine) {
		e.scripts = h
	}
}

// New creates a predicate engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Matches reports whether the predicate node holds for the request, with
// field as the current dot-composed path prefix. Every key is evaluated and
// the results AND-reduced; evaluation errors are collected rather than
// aborting the pass, and the first (in sorted key order) is returned so a
// malformed sibling key surfaces regardless of the other keys' results.
func (e *Engine) Matches(field string, node map[string]any, req imposter.Request, log *slog.Logger) (bool, error) {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := true
	var firstErr error
	for _, key := range keys {
		ok, err := e.evaluateKey(field, key, node[key], req, log)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		result = result && ok
	}
	if firstErr != nil {
		return false, firstErr
	}
	return result, nil
}

// evaluateKey dispatches one node key: a recognized operator delegates to its
// evaluator; a mapping argument under an unrecognized key is a nested field
// selector; anything else is a validation failure.
func (e *Engine) evaluateKey(field, key string, arg any, req imposter.Request, log *slog.Logger) (bool, error) {
	if eval, ok := operators[key]; ok {
		return eval(e, field, arg, req, log)
	}
	if sub, ok := asObject(arg); ok {
		return e.Matches(joinField(field, key), sub, req, log)
	}
	return false, &imposter.ValidationError{
		Field:    field,
		Operator: key,
		Message:  "unrecognized operator",
	}
}

// Validate performs the dry-run pass over a predicate mapping: the node is
// exhaustively evaluated against an empty request and any ValidationError
// surfaces. Runtime-only failures (for example an inject script referencing
// absent fields) are ignored; they are resolution-time concerns.
func (e *Engine) Validate(node map[string]any) error {
	_, err := e.Matches("", node, imposter.Request{}, slog.New(slog.DiscardHandler))
	var verr *imposter.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return nil
}

// joinField extends a dot-composed field path by one segment.
func joinField(field, key string) string {
	if field == "" {
		return key
	}
	return field + "." + key
}

// asObject reports whether v is a predicate node mapping.
func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
