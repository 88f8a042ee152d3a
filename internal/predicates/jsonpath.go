package predicates

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ohler55/ojg/jp"

	"github.com/getstubd/stubd/pkg/imposter"
)

// evalJSONPath applies a JSONPath selector to the addressed field and compares
// the selected values. The argument is an object with a required "selector"
// and an optional "equals"; without "equals" the predicate is an existence
// check on the selection.
//
// A string field value is parsed as JSON first; a value that is not valid JSON
// simply does not match (that is a request-shape concern, not a configuration
// error).
func evalJSONPath(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	m, ok := asObject(arg)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "jsonpath",
			Message:  fmt.Sprintf("expected an object with a selector, got %T", arg),
		}
	}

	for key := range m {
		if key != "selector" && key != "equals" {
			return false, &imposter.ValidationError{
				Field:    field,
				Operator: "jsonpath",
				Message:  fmt.Sprintf("unknown parameter %q", key),
			}
		}
	}

	selector, ok := m["selector"].(string)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "jsonpath",
			Message:  "selector must be a string",
		}
	}
	expr, err := jp.ParseString(selector)
	if err != nil {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "jsonpath",
			Message:  fmt.Sprintf("invalid selector %q: %v", selector, err),
		}
	}

	value, present := req.Field(field)
	if !present {
		return false, nil
	}
	data := value
	if s, isStr := value.(string); isStr {
		if err := json.Unmarshal([]byte(s), &data); err != nil {
			return false, nil
		}
	}

	results := expr.Get(data)
	expected, hasEquals := m["equals"]
	if !hasEquals {
		return len(results) > 0, nil
	}
	for _, r := range results {
		if valuesEqual(r, expected) {
			return true, nil
		}
	}
	return false, nil
}
