// Package resolver executes response descriptors: static payloads, recorded
// proxy calls against a real backend, and externally supplied scripted
// responses. It is the only part of resolution allowed to suspend.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/stub"
)

// Resolver dispatches over the tagged response descriptor. A single Resolver
// is shared by all stubs of an imposter and is safe for concurrent use.
type Resolver struct {
	scripts imposter.ScriptHost
	client  *http.Client
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithScriptHost wires the capability that executes inject responses.
func WithScriptHost(h imposter.ScriptHost) Option {
	return func(r *Resolver) {
		r.scripts = h
	}
}

// WithHTTPClient sets the client used for proxy forwarding. Proxy deadlines
// belong to this client (or the caller's ctx); the core imposes none.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		if c != nil {
			r.client = c
		}
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve executes the descriptor's strategy and applies any behaviors.
// Strategy failures are wrapped as ResolutionErrors and surfaced verbatim;
// nothing is retried here.
func (r *Resolver) Resolve(ctx context.Context, d *imposter.ResponseDescriptor, req imposter.Request, log *slog.Logger, stubs stub.Access) (imposter.Response, error) {
	var (
		resp imposter.Response
		err  error
	)
	switch {
	case d == nil:
		err = fmt.Errorf("nil response descriptor")
	case d.Is != nil:
		resp = mergeOverDefault(d.Is)
	case d.Proxy != nil:
		resp, err = r.resolveProxy(ctx, d, req, log, stubs)
	case d.Inject != "":
		resp, err = r.resolveInject(d.Inject, req, log)
	default:
		err = fmt.Errorf("response descriptor selects no strategy")
	}
	if err != nil {
		return nil, &imposter.ResolutionError{Strategy: d.Kind(), Err: err}
	}

	if d != nil && d.Behaviors != nil {
		if err := applyWait(ctx, d.Behaviors.WaitMs); err != nil {
			return nil, &imposter.ResolutionError{Strategy: d.Kind(), Err: err}
		}
	}
	return resp, nil
}

// resolveInject hands the request to the externally supplied routine behind
// the script host capability.
func (r *Resolver) resolveInject(source string, req imposter.Request, log *slog.Logger) (imposter.Response, error) {
	if r.scripts == nil {
		return nil, fmt.Errorf("inject response requires a script host")
	}
	resp, err := r.scripts.ProduceResponse(source, req, log)
	if err != nil {
		return nil, err
	}
	return mergeOverDefault(resp), nil
}

// mergeOverDefault overlays a produced payload on the protocol default, so
// partial payloads (body only, headers only) still form a complete response.
func mergeOverDefault(payload imposter.Response) imposter.Response {
	resp := imposter.DefaultResponse()
	for k, v := range payload.Clone() {
		resp[k] = v
	}
	return resp
}

// applyWait delays the response, honoring ctx cancellation.
func applyWait(ctx context.Context, ms int) error {
	if ms <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
