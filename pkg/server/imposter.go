// Package server runs imposters on the network and exposes the administrative
// API used to configure them. It owns the boundary between wire traffic and
// the matching core: decoding inbound requests into the canonical request
// mapping, and encoding resolved responses back onto the wire.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getstubd/stubd/internal/id"
	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/stub"
)

// maxRequestBodySize caps buffered inbound bodies (10MB).
const maxRequestBodySize = 10 * 1024 * 1024

// RequestLogEntry is one recorded inbound request, kept when the imposter has
// recordRequests enabled. Entry IDs are ULIDs, so the log sorts by arrival.
type RequestLogEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Request   imposter.Request  `json:"request"`
	Response  imposter.Response `json:"response,omitempty"`
}

// Imposter is a running virtual endpoint: one listener, one stub repository.
type Imposter struct {
	cfg  imposter.Config
	repo *stub.Repository
	log  *slog.Logger

	httpServer *http.Server
	listener   net.Listener

	mu       sync.Mutex
	port     int
	running  bool
	requests []RequestLogEntry
}

// NewImposter wires a configured imposter to its repository. The listener is
// not bound until Start.
func NewImposter(cfg imposter.Config, repo *stub.Repository, log *slog.Logger) *Imposter {
	return &Imposter{
		cfg:  cfg,
		repo: repo,
		log:  log,
		port: cfg.Port,
	}
}

// Config returns the imposter's configuration.
func (im *Imposter) Config() imposter.Config {
	return im.cfg
}

// Repository returns the imposter's stub repository.
func (im *Imposter) Repository() *stub.Repository {
	return im.repo
}

// Port returns the bound port once started, or the configured port before.
func (im *Imposter) Port() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.port
}

// Start binds the imposter's port and begins serving. A configured port of
// zero binds an ephemeral port, readable via Port afterwards.
func (im *Imposter) Start(ctx context.Context) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.running {
		return fmt.Errorf("imposter on port %d already running", im.port)
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", im.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding imposter port %d: %w", im.cfg.Port, err)
	}
	im.listener = listener
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		im.port = addr.Port
	}

	im.httpServer = &http.Server{
		Handler:           http.HandlerFunc(im.handleHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}
	im.running = true

	go func() {
		if err := im.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			im.log.Error("imposter serve failed", "port", im.port, "error", err)
		}
	}()

	im.log.Info("imposter started", "protocol", im.cfg.Protocol, "port", im.port, "name", im.cfg.Name)
	return nil
}

// Stop shuts the listener down gracefully. Stub state dies with the imposter.
func (im *Imposter) Stop(ctx context.Context) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	if !im.running {
		return nil
	}
	im.running = false
	im.log.Info("imposter stopping", "port", im.port)
	return im.httpServer.Shutdown(ctx)
}

// Requests returns a snapshot of the recorded request log.
func (im *Imposter) Requests() []RequestLogEntry {
	im.mu.Lock()
	defer im.mu.Unlock()
	return append([]RequestLogEntry(nil), im.requests...)
}

// handleHTTP decodes one wire request, resolves it against the stub
// repository, and encodes the result. Resolution failures surface as a 500
// for this single request; they never disturb stub configuration or block
// unrelated requests.
func (im *Imposter) handleHTTP(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
		if err != nil {
			http.Error(w, "error reading request body", http.StatusBadRequest)
			return
		}
	}

	req := decodeRequest(r, body)
	resp, err := im.repo.Resolve(r.Context(), req, im.log)
	if err != nil {
		im.log.Error("resolution failed", "port", im.Port(), "method", r.Method, "path", r.URL.Path, "error", err)
		writeResolutionFailure(w, err)
		return
	}

	if im.cfg.RecordRequests {
		im.mu.Lock()
		im.requests = append(im.requests, RequestLogEntry{
			ID:        id.ULID(),
			Timestamp: time.Now(),
			Request:   req,
			Response:  resp,
		})
		im.mu.Unlock()
	}

	encodeResponse(w, resp)
}

// decodeRequest normalizes an inbound HTTP request into the canonical mapping
// the predicate engine traverses.
func decodeRequest(r *http.Request, body []byte) imposter.Request {
	headers := make(map[string]any, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 1 {
			headers[name] = values[0]
		} else {
			headers[name] = toAnySlice(values)
		}
	}

	rawQuery := r.URL.Query()
	query := make(map[string]any, len(rawQuery))
	for name, values := range rawQuery {
		if len(values) == 1 {
			query[name] = values[0]
		} else {
			query[name] = toAnySlice(values)
		}
	}

	return imposter.Request{
		"requestFrom": r.RemoteAddr,
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       query,
		"headers":     headers,
		"body":        string(body),
	}
}

// encodeResponse writes a resolved response onto the wire. Non-string bodies
// are JSON-encoded.
func encodeResponse(w http.ResponseWriter, resp imposter.Response) {
	if headers, ok := resp["headers"].(map[string]any); ok {
		for name, value := range headers {
			w.Header().Set(name, imposter.Stringify(value))
		}
	}

	status := http.StatusOK
	if code, ok := toInt(resp["statusCode"]); ok {
		status = code
	}

	var body []byte
	switch b := resp["body"].(type) {
	case nil:
	case string:
		body = []byte(b)
	default:
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		body, _ = json.Marshal(b)
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeResolutionFailure maps a core error onto the wire as a JSON error
// payload. Validation and resolution failures both surface as a 500 for the
// single affected request.
func writeResolutionFailure(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)

	kind := "ResolutionError"
	var verr *imposter.ValidationError
	if errors.As(err, &verr) {
		kind = "ValidationError"
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   kind,
		"message": err.Error(),
	})
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
