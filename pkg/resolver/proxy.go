package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/stub"
)

// maxProxyBodySize caps the captured backend body (10MB).
const maxProxyBodySize = 10 * 1024 * 1024

// resolveProxy forwards the request to the configured backend, converts the
// reply, and records a replay stub according to the proxy mode. Recording is
// the one cross-stub effect in the system, which is why the resolver receives
// the full stub access handle.
func (r *Resolver) resolveProxy(ctx context.Context, d *imposter.ResponseDescriptor, req imposter.Request, log *slog.Logger, stubs stub.Access) (imposter.Response, error) {
	cfg := d.Proxy

	start := time.Now()
	resp, err := r.forward(ctx, cfg.To, req)
	if err != nil {
		return nil, err
	}
	log.Debug("proxied request",
		"to", cfg.To,
		"status", resp["statusCode"],
		"duration", time.Since(start))

	r.recordReplay(cfg, d, req, resp, stubs)
	return resp, nil
}

// forward rebuilds the normalized request as an outbound HTTP call.
func (r *Resolver) forward(ctx context.Context, target string, req imposter.Request) (imposter.Response, error) {
	base, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy target %q: %w", target, err)
	}

	method := "GET"
	if m, ok := req.FieldString("method"); ok && m != "" {
		method = strings.ToUpper(m)
	}
	path, _ := req.FieldString("path")
	outURL := *base
	outURL.Path = strings.TrimSuffix(base.Path, "/") + path
	outURL.RawQuery = encodeQuery(req)

	var body io.Reader
	if b, ok := req.FieldString("body"); ok && b != "" {
		body = strings.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, outURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building proxy request: %w", err)
	}
	if headers, ok := req.Field("headers"); ok {
		if hm, ok := headers.(map[string]any); ok {
			for name, value := range hm {
				if strings.EqualFold(name, "Host") || strings.EqualFold(name, "Content-Length") {
					continue
				}
				httpReq.Header.Set(name, imposter.Stringify(value))
			}
		}
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("proxy call to %s: %w", target, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxProxyBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading proxy response: %w", err)
	}

	headers := make(map[string]any, len(httpResp.Header))
	for name := range httpResp.Header {
		headers[name] = httpResp.Header.Get(name)
	}
	return imposter.Response{
		"statusCode": httpResp.StatusCode,
		"headers":    headers,
		"body":       string(respBody),
	}, nil
}

// encodeQuery rebuilds the query string from the normalized query mapping.
func encodeQuery(req imposter.Request) string {
	raw, ok := req.Field("query")
	if !ok {
		return ""
	}
	qm, ok := raw.(map[string]any)
	if !ok {
		return ""
	}
	values := url.Values{}
	for name, value := range qm {
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				values.Add(name, imposter.Stringify(item))
			}
		default:
			values.Add(name, imposter.Stringify(v))
		}
	}
	return values.Encode()
}

// recordReplay synthesizes (or extends) a replay stub from the proxied
// exchange. proxyOnce places the recorded stub before the proxy stub so the
// next identical request replays; proxyAlways accumulates responses on a
// recorded stub after the proxy stub, so the backend keeps being consulted.
func (r *Resolver) recordReplay(cfg *imposter.ProxyConfig, d *imposter.ResponseDescriptor, req imposter.Request, resp imposter.Response, stubs stub.Access) {
	owner := findOwner(stubs, d)
	predicates := generatePredicates(cfg, req)

	if cfg.Mode == imposter.ProxyAlways {
		for _, s := range stubs.Stubs() {
			if s.Recorded && predicatesEqual(s.Predicates, predicates) {
				s.AddResponse(&imposter.ResponseDescriptor{Is: resp.Clone()})
				return
			}
		}
		stubs.InsertAfter(stub.NewRecorded(predicates, resp.Clone()), owner)
		return
	}

	stubs.InsertBefore(stub.NewRecorded(predicates, resp.Clone()), owner)
}

// findOwner locates the stub whose response ring contains the descriptor.
func findOwner(stubs stub.Access, d *imposter.ResponseDescriptor) *stub.Stub {
	for _, s := range stubs.Stubs() {
		if s.HasResponse(d) {
			return s
		}
	}
	return nil
}

// generatePredicates builds equals predicates for the request fields named by
// the proxy's predicate generators. Without generators, method and path
// identify the exchange.
func generatePredicates(cfg *imposter.ProxyConfig, req imposter.Request) map[string]any {
	fields := []string{"method", "path"}
	if len(cfg.PredicateGenerators) > 0 {
		fields = fields[:0]
		for _, gen := range cfg.PredicateGenerators {
			for field, on := range gen.Matches {
				if on {
					fields = append(fields, field)
				}
			}
		}
	}

	predicates := make(map[string]any, len(fields))
	for _, field := range fields {
		value, ok := req.Field(field)
		if !ok {
			continue
		}
		predicates[field] = map[string]any{"equals": value}
	}
	return predicates
}

// predicatesEqual compares generated predicate mappings structurally.
// json.Marshal sorts map keys, so byte equality is structural equality here.
func predicatesEqual(a, b map[string]any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
