package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/getstubd/stubd/internal/predicates"
	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/resolver"
	"github.com/getstubd/stubd/pkg/script"
	"github.com/getstubd/stubd/pkg/stub"
)

// Manager owns the set of running imposters, keyed by port. It builds the
// matching core for each imposter (one repository, one shared engine and
// resolver) and validates configuration before anything goes live.
type Manager struct {
	engine      *predicates.Engine
	resolver    *resolver.Resolver
	log         *slog.Logger
	proxyClient *http.Client

	mu        sync.RWMutex
	imposters map[int]*Imposter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithProxyClient sets the HTTP client used by proxy response strategies.
func WithProxyClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		m.proxyClient = c
	}
}

// NewManager creates a Manager. One embedded expression script host backs
// inject predicates and responses across all imposters, so compiled programs
// are shared.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		log:       logging.Nop(),
		imposters: make(map[int]*Imposter),
	}
	for _, opt := range opts {
		opt(m)
	}

	host := script.NewHost()
	m.engine = predicates.New(predicates.WithScriptHost(host))
	m.resolver = resolver.New(
		resolver.WithScriptHost(host),
		resolver.WithHTTPClient(m.proxyClient),
	)
	return m
}

// ValidateConfig checks an imposter configuration without starting anything:
// structural validation plus the predicate engine's exhaustive dry-run pass
// over every stub's predicates.
func (m *Manager) ValidateConfig(cfg imposter.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for i, sc := range cfg.Stubs {
		if err := m.engine.Validate(sc.Predicates); err != nil {
			return fmt.Errorf("stubs[%d]: %w", i, err)
		}
	}
	return nil
}

// Create validates the configuration (structure plus an exhaustive predicate
// dry run), builds the stub repository, and starts the imposter's listener.
func (m *Manager) Create(ctx context.Context, cfg imposter.Config) (*Imposter, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	var opts []stub.RepositoryOption
	if cfg.DefaultResponse != nil {
		opts = append(opts, stub.WithFallbackResponse(cfg.DefaultResponse))
	}
	repo := stub.NewRepository(m.engine, m.resolver, opts...)
	for _, sc := range cfg.Stubs {
		repo.AddStub(stub.New(sc))
	}

	im := NewImposter(cfg, repo, m.log)
	if err := im.Start(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.imposters[im.Port()]; exists {
		m.mu.Unlock()
		_ = im.Stop(ctx)
		return nil, fmt.Errorf("imposter already exists on port %d", im.Port())
	}
	m.imposters[im.Port()] = im
	m.mu.Unlock()

	return im, nil
}

// Get returns the imposter bound to the port, or nil.
func (m *Manager) Get(port int) *Imposter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.imposters[port]
}

// List returns all imposters ordered by port.
func (m *Manager) List() []*Imposter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Imposter, 0, len(m.imposters))
	for _, im := range m.imposters {
		out = append(out, im)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port() < out[j].Port() })
	return out
}

// AddStub validates and appends a stub to a running imposter. Later stubs
// have lower priority: selection is first configured match in current order.
func (m *Manager) AddStub(port int, sc imposter.StubConfig) error {
	im := m.Get(port)
	if im == nil {
		return fmt.Errorf("no imposter on port %d", port)
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if err := m.engine.Validate(sc.Predicates); err != nil {
		return err
	}
	im.Repository().AddStub(stub.New(sc))
	return nil
}

// Delete stops and removes the imposter on the port, discarding all stub
// state and history. Returns the removed imposter, or nil.
func (m *Manager) Delete(ctx context.Context, port int) *Imposter {
	m.mu.Lock()
	im := m.imposters[port]
	delete(m.imposters, port)
	m.mu.Unlock()

	if im != nil {
		if err := im.Stop(ctx); err != nil {
			m.log.Warn("imposter shutdown failed", "port", port, "error", err)
		}
	}
	return im
}

// DeleteAll tears down every imposter.
func (m *Manager) DeleteAll(ctx context.Context) {
	for _, im := range m.List() {
		m.Delete(ctx, im.Port())
	}
}
