// Package imposter defines the configuration and value model for virtual
// endpoints: the canonical request/response shapes the matching core operates
// on, the stub and response-descriptor configuration users supply, and the
// error taxonomy surfaced by resolution.
package imposter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Protocol identifies the wire protocol an imposter speaks.
type Protocol string

const (
	// ProtocolHTTP is the built-in HTTP protocol.
	ProtocolHTTP Protocol = "http"
)

// Request is one inbound protocol transaction, normalized by the protocol
// listener into a mapping of field name to value. Values are primitives,
// sequences, or nested mappings. The matching core treats the shape as opaque
// beyond "a mapping predicates can traverse".
type Request map[string]any

// Response is the structured reply produced by resolution. For HTTP imposters
// the listener understands statusCode, headers, and body; other fields pass
// through untouched.
type Response map[string]any

// DefaultResponse is the empty-success payload served by the implicit fallback
// stub when nothing matches and no imposter-level override is configured.
func DefaultResponse() Response {
	return Response{
		"statusCode": 200,
		"headers":    map[string]any{},
		"body":       "",
	}
}

// Clone returns a deep copy of the response via a JSON round trip.
// Resolution strategies mutate their working copy; the configured descriptor
// must stay pristine across rotations.
func (r Response) Clone() Response {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		out := make(Response, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return r
	}
	return out
}

// ProxyMode controls how a proxy descriptor records replay stubs.
type ProxyMode string

const (
	// ProxyOnce inserts the recorded stub before the proxy stub, so the next
	// identical request replays without touching the backend.
	ProxyOnce ProxyMode = "proxyOnce"

	// ProxyAlways keeps forwarding to the backend, accumulating recorded
	// responses on a replay stub placed after the proxy stub.
	ProxyAlways ProxyMode = "proxyAlways"
)

// ProxyConfig is the proxy instruction carried by a response descriptor.
type ProxyConfig struct {
	// To is the base URL of the real backend (e.g. http://origin:8080).
	To string `json:"to" yaml:"to"`

	// Mode selects the recording policy. Defaults to proxyOnce.
	Mode ProxyMode `json:"mode,omitempty" yaml:"mode,omitempty"`

	// PredicateGenerators describe which request fields become equals
	// predicates on the recorded replay stub. When empty, method and path
	// are used.
	PredicateGenerators []PredicateGenerator `json:"predicateGenerators,omitempty" yaml:"predicateGenerators,omitempty"`
}

// PredicateGenerator selects request fields to turn into replay predicates.
type PredicateGenerator struct {
	// Matches maps a request field name to whether it participates.
	Matches map[string]bool `json:"matches,omitempty" yaml:"matches,omitempty"`
}

// Behaviors are response-shaping modifiers attached to a descriptor.
type Behaviors struct {
	// WaitMs delays the response by the given number of milliseconds after
	// the strategy produces it.
	WaitMs int `json:"wait,omitempty" yaml:"wait,omitempty"`
}

// ResponseDescriptor is the tagged configuration describing how to produce one
// response: exactly one of Is, Proxy, or Inject is set.
type ResponseDescriptor struct {
	// Is is a literal response payload merged over the protocol default.
	Is Response `json:"is,omitempty" yaml:"is,omitempty"`

	// Proxy forwards the request to a real backend and records the reply.
	Proxy *ProxyConfig `json:"proxy,omitempty" yaml:"proxy,omitempty"`

	// Inject is an externally supplied scripted routine producing the
	// response, hosted behind ScriptHost.
	Inject string `json:"inject,omitempty" yaml:"inject,omitempty"`

	// Behaviors optionally shapes the produced response.
	Behaviors *Behaviors `json:"_behaviors,omitempty" yaml:"behaviors,omitempty"`
}

// Kind names the strategy a descriptor selects, for logging and errors.
func (d *ResponseDescriptor) Kind() string {
	switch {
	case d == nil:
		return "none"
	case d.Is != nil:
		return "is"
	case d.Proxy != nil:
		return "proxy"
	case d.Inject != "":
		return "inject"
	default:
		return "none"
	}
}

// StubConfig is the wire shape of one stub: an optional predicate mapping
// (absence matches every request) and a non-empty ordered response queue.
type StubConfig struct {
	// Predicates maps request fields (or operator names) to predicate nodes.
	// Every entry must hold for the stub to match.
	Predicates map[string]any `json:"predicates,omitempty" yaml:"predicates,omitempty"`

	// Responses is the ordered queue of response descriptors, consumed
	// round-robin across consecutive matches.
	Responses []*ResponseDescriptor `json:"responses" yaml:"responses"`
}

// Config describes one imposter: a virtual endpoint with its own stub set.
type Config struct {
	// Protocol is the wire protocol the imposter speaks.
	Protocol Protocol `json:"protocol" yaml:"protocol"`

	// Port is the TCP port to bind. Zero picks a free port at start.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Name is an optional human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// RecordRequests enables the per-imposter request log.
	RecordRequests bool `json:"recordRequests,omitempty" yaml:"recordRequests,omitempty"`

	// DefaultResponse overrides the empty-success fallback payload.
	DefaultResponse Response `json:"defaultResponse,omitempty" yaml:"defaultResponse,omitempty"`

	// Stubs is the ordered rule set, evaluated first-to-last.
	Stubs []StubConfig `json:"stubs,omitempty" yaml:"stubs,omitempty"`
}

// MatchRecord is appended to a stub's history after a response is produced.
type MatchRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Request   Request   `json:"request"`
	Response  Response  `json:"response"`
}

// ScriptHost executes externally supplied scripted logic. The matching core
// and resolver depend only on this capability, never on how the logic is
// hosted (embedded evaluator, out-of-process runner, ...).
type ScriptHost interface {
	// MatchesRequest evaluates a scripted predicate against the request.
	MatchesRequest(source string, req Request, log *slog.Logger) (bool, error)

	// ProduceResponse evaluates a scripted response routine.
	ProduceResponse(source string, req Request, log *slog.Logger) (Response, error)
}

// FieldString returns the request field at the dot-composed path as a string,
// with ok reporting whether the field exists. Non-string primitives are
// formatted; mappings and sequences report their JSON encoding.
func (r Request) FieldString(path string) (string, bool) {
	v, ok := r.Field(path)
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Field returns the value at the dot-composed path, descending through nested
// mappings. An empty path addresses the whole request.
func (r Request) Field(path string) (any, bool) {
	if path == "" {
		return map[string]any(r), true
	}
	var cur any = map[string]any(r)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i != len(path) && path[i] != '.' {
			continue
		}
		key := path[start:i]
		start = i + 1
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a field value for the string-based leaf matchers.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
