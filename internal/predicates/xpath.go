package predicates

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/getstubd/stubd/pkg/imposter"
)

// evalXPath applies an XPath selector to the addressed field, which must hold
// an XML document, and compares the text of the selected nodes. The argument
// mirrors jsonpath: a required "selector" plus an optional "equals".
//
// A field value that does not parse as XML does not match; only a malformed
// selector is a configuration error.
func evalXPath(_ *Engine, field string, arg any, req imposter.Request, _ *slog.Logger) (bool, error) {
	m, ok := asObject(arg)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "xpath",
			Message:  fmt.Sprintf("expected an object with a selector, got %T", arg),
		}
	}

	for key := range m {
		if key != "selector" && key != "equals" {
			return false, &imposter.ValidationError{
				Field:    field,
				Operator: "xpath",
				Message:  fmt.Sprintf("unknown parameter %q", key),
			}
		}
	}

	selector, ok := m["selector"].(string)
	if !ok {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "xpath",
			Message:  "selector must be a string",
		}
	}
	expr, err := xpath.Compile(selector)
	if err != nil {
		return false, &imposter.ValidationError{
			Field:    field,
			Operator: "xpath",
			Message:  fmt.Sprintf("invalid selector %q: %v", selector, err),
		}
	}

	value, present := req.FieldString(field)
	if !present {
		return false, nil
	}
	doc, err := xmlquery.Parse(strings.NewReader(value))
	if err != nil {
		return false, nil
	}

	nodes := xmlquery.QuerySelectorAll(doc, expr)
	expected, hasEquals := m["equals"]
	if !hasEquals {
		return len(nodes) > 0, nil
	}
	want := imposter.Stringify(expected)
	for _, n := range nodes {
		if n.InnerText() == want {
			return true, nil
		}
	}
	return false, nil
}
