package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/stub"
)

// Admin is the administrative HTTP API: imposter CRUD, stub appends, and
// read-only match/request history for verification tooling.
type Admin struct {
	manager    *Manager
	log        *slog.Logger
	httpServer *http.Server
	listener   net.Listener
	port       int
}

// NewAdmin creates the admin API bound to the given port.
func NewAdmin(manager *Manager, port int, log *slog.Logger) *Admin {
	if log == nil {
		log = logging.Nop()
	}
	return &Admin{
		manager: manager,
		log:     log,
		port:    port,
	}
}

// Port returns the bound port once started.
func (a *Admin) Port() int {
	return a.port
}

// Handler builds the admin route table.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /imposters", a.handleCreateImposter)
	mux.HandleFunc("GET /imposters", a.handleListImposters)
	mux.HandleFunc("DELETE /imposters", a.handleDeleteAllImposters)
	mux.HandleFunc("GET /imposters/{port}", a.handleGetImposter)
	mux.HandleFunc("DELETE /imposters/{port}", a.handleDeleteImposter)
	mux.HandleFunc("POST /imposters/{port}/stubs", a.handleAddStub)
	return mux
}

// Start binds the admin port and begins serving.
func (a *Admin) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("binding admin port %d: %w", a.port, err)
	}
	a.listener = listener
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		a.port = addr.Port
	}

	a.httpServer = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin serve failed", "error", err)
		}
	}()

	a.log.Info("admin API started", "port", a.port)
	return nil
}

// Stop shuts the admin API down gracefully. Imposters are torn down by the
// caller, not here.
func (a *Admin) Stop(ctx context.Context) error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}

func (a *Admin) handleCreateImposter(w http.ResponseWriter, r *http.Request) {
	var cfg imposter.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid imposter payload: %w", err))
		return
	}

	im, err := a.manager.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, imposterView(im, false))
}

func (a *Admin) handleListImposters(w http.ResponseWriter, _ *http.Request) {
	views := make([]map[string]any, 0)
	for _, im := range a.manager.List() {
		views = append(views, imposterSummary(im))
	}
	writeJSON(w, http.StatusOK, map[string]any{"imposters": views})
}

func (a *Admin) handleDeleteAllImposters(w http.ResponseWriter, r *http.Request) {
	a.manager.DeleteAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"imposters": []any{}})
}

func (a *Admin) handleGetImposter(w http.ResponseWriter, r *http.Request) {
	im, ok := a.imposterFromPath(w, r)
	if !ok {
		return
	}
	withMatches := r.URL.Query().Get("matches") == "true"
	writeJSON(w, http.StatusOK, imposterView(im, withMatches))
}

func (a *Admin) handleDeleteImposter(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid port %q", r.PathValue("port")))
		return
	}
	im := a.manager.Delete(r.Context(), port)
	if im == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no imposter on port %d", port))
		return
	}
	writeJSON(w, http.StatusOK, imposterView(im, false))
}

func (a *Admin) handleAddStub(w http.ResponseWriter, r *http.Request) {
	im, ok := a.imposterFromPath(w, r)
	if !ok {
		return
	}

	var sc imposter.StubConfig
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid stub payload: %w", err))
		return
	}
	if err := a.manager.AddStub(im.Port(), sc); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, imposterView(im, false))
}

func (a *Admin) imposterFromPath(w http.ResponseWriter, r *http.Request) (*Imposter, bool) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid port %q", r.PathValue("port")))
		return nil, false
	}
	im := a.manager.Get(port)
	if im == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no imposter on port %d", port))
		return nil, false
	}
	return im, true
}

// imposterSummary is the list-view shape.
func imposterSummary(im *Imposter) map[string]any {
	cfg := im.Config()
	return map[string]any{
		"protocol":  cfg.Protocol,
		"port":      im.Port(),
		"name":      cfg.Name,
		"stubCount": len(im.Repository().Stubs()),
	}
}

// imposterView is the detail-view shape, optionally including per-stub match
// history and the recorded request log.
func imposterView(im *Imposter, withMatches bool) map[string]any {
	cfg := im.Config()
	view := map[string]any{
		"protocol": cfg.Protocol,
		"port":     im.Port(),
		"name":     cfg.Name,
		"stubs":    stubViews(im.Repository().Stubs(), withMatches),
	}
	if cfg.RecordRequests {
		view["requests"] = im.Requests()
	}
	return view
}

func stubViews(stubs []*stub.Stub, withMatches bool) []map[string]any {
	views := make([]map[string]any, 0, len(stubs))
	for _, s := range stubs {
		view := map[string]any{
			"id":        s.ID,
			"responses": s.Responses(),
		}
		if s.Predicates != nil {
			view["predicates"] = s.Predicates
		}
		if s.Recorded {
			view["recorded"] = true
		}
		if withMatches {
			view["matches"] = s.Matches()
		}
		views = append(views, view)
	}
	return views
}

func statusFor(err error) int {
	var cerr *imposter.ConfigError
	var verr *imposter.ValidationError
	if errors.As(err, &cerr) || errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
