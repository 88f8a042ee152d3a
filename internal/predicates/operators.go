package predicates

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/getstubd/stubd/pkg/imposter"
)

// descendOrLeaf implements the shared shape handling of the leaf matchers:
// a mapping argument descends per key as nested field selection, any other
// argument is compared at the current field. A non-object argument at the
// request root is a validation failure since there is no field to compare.
func descendOrLeaf(opName string, leaf func(e *Engine, field string, arg any, req imposter.Request, log *slog.Logger) (bool, error)) evalFunc {
	var eval evalFunc
	eval = func(e *Engine, field string, arg any, req imposter.Request, log *slog.Logger) (bool, error) {
		if m, ok := asObject(arg); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			result := true
			var firstErr error
			for _, key := range keys {
				ok, err := eval(e, joinField(field, key), m[key], req, log)
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
		if field == "" {
			return false, &imposter.ValidationError{
				Operator: opName,
				Message:  "predicate value must be an object",
			}
		}
		return leaf(e, field, arg, req, log)
	}
	return eval
}

var evalEquals = descendOrLeaf("equals", func(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	v, ok := req.Field(field)
	if !ok {
		return false, nil
	}
	return valuesEqual(v, arg), nil
})

var evalContains = descendOrLeaf("contains", func(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	s, ok := req.FieldString(field)
	if !ok {
		return false, nil
	}
	return strings.Contains(s, imposter.Stringify(arg)), nil
})

var evalStartsWith = descendOrLeaf("startsWith", func(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	s, ok := req.FieldString(field)
	if !ok {
		return false, nil
	}
	return strings.HasPrefix(s, imposter.Stringify(arg)), nil
})

var evalEndsWith = descendOrLeaf("endsWith", func(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	s, ok := req.FieldString(field)
	if !ok {
		return false, nil
	}
	return strings.HasSuffix(s, imposter.Stringify(arg)), nil
})

var evalMatches = descendOrLeaf("matches", func(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	pattern, ok := arg.(string)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "matches",
			Message:  fmt.Sprintf("pattern must be a string, got %T", arg),
		}
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "matches",
			Message:  fmt.Sprintf("invalid pattern %q: %v", pattern, err),
		}
	}
	s, present := req.FieldString(field)
	if !present {
		return false, nil
	}
	return re.MatchString(s), nil
})

var evalExists = descendOrLeaf("exists", func(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	want, ok := arg.(bool)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "exists",
			Message:  fmt.Sprintf("expected a boolean, got %T", arg),
		}
	}
	_, present := req.Field(field)
	return present == want, nil
})

// evalDeepEquals compares whole subtrees. Unlike equals, a mapping inside the
// expected value is part of the structure to compare, not a deeper selector,
// so descent stops after the first level of field selection.
func evalDeepEquals(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	m, ok := asObject(arg)
	if !ok {
		if field == "" {
			return false, &imposter.ValidationError{
				Operator: "deepEquals",
				Message:  "predicate value must be an object",
			}
		}
		v, present := req.Field(field)
		if !present {
			return false, nil
		}
		return deepEqual(v, arg), nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := true
	for _, key := range keys {
		v, present := req.Field(joinField(field, key))
		if !present {
			result = false
			continue
		}
		result = result && deepEqual(v, m[key])
	}
	return result, nil
}

func evalNot(e *Engine, field string, arg any, req imposter.Request, log *slog.Logger) (bool, error) {
	sub, ok := asObject(arg)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "not",
			Message:  fmt.Sprintf("expected a predicate object, got %T", arg),
		}
	}
	matched, err := e.Matches(field, sub, req, log)
	if err != nil {
		return false, err
	}
	return !matched, nil
}

func evalAnd(e *Engine, field string, arg any, req imposter.Request, log *slog.Logger) (bool, error) {
	subs, err := predicateList(field, "and", arg)
	if err != nil {
		return false, err
	}
	result := true
	var firstErr error
	for _, sub := range subs {
		ok, err := e.Matches(field, sub, req, log)
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

func evalOr(e *Engine, field string, arg any, req imposter.Request, log *slog.Logger) (bool, error) {
	subs, err := predicateList(field, "or", arg)
	if err != nil {
		return false, err
	}
	result := false
	var firstErr error
	for _, sub := range subs {
		ok, err := e.Matches(field, sub, req, log)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		result = result || ok
	}
	if firstErr != nil {
		return false, firstErr
	}
	return result, nil
}

func evalInject(e *Engine, field string, arg any, req imposter.Request, log *slog.Logger) (bool, error) {
	source, ok := arg.(string)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "inject",
			Message:  fmt.Sprintf("expected a script source string, got %T", arg),
		}
	}
	if e.scripts == nil {
		return false, fmt.Errorf("inject predicate requires a script host")
	}
	return e.scripts.MatchesRequest(source, req, log)
}

// predicateList coerces a combinator argument into a list of predicate nodes.
func predicateList(field, opName string, arg any) ([]map[string]any, error) {
	list, ok := arg.([]any)
	if !ok {
		return nil, &imposter.ValidationError{
			Field:    field,
			Operator: opName,
			Message:  fmt.Sprintf("expected a list of predicate objects, got %T", arg),
		}
	}
	subs := make([]map[string]any, 0, len(list))
	for i, item := range list {
		sub, ok := asObject(item)
		if !ok {
			return nil, &imposter.ValidationError{
				Field:    field,
				Operator: opName,
				Message:  fmt.Sprintf("element %d is not a predicate object (%T)", i, item),
			}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
