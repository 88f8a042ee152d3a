package stub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/getstubd/stubd/internal/predicates"
	"github.com/getstubd/stubd/pkg/imposter"
)

// Access is the read/insert view of the stub collection handed to the
// resolver. Proxy strategies use it to inspect sibling stubs and to place
// recorded replay stubs relative to the proxy stub.
type Access interface {
	// Stubs returns a snapshot of the collection in current priority order.
	Stubs() []*Stub

	// InsertBefore places s immediately before relativeTo, or appends when
	// relativeTo is no longer present.
	InsertBefore(s, relativeTo *Stub)

	// InsertAfter places s immediately after relativeTo, or appends when
	// relativeTo is no longer present.
	InsertAfter(s, relativeTo *Stub)
}

// Resolver turns a chosen response descriptor into an actual response. It may
// perform I/O (proxy calls) or invoke externally supplied logic, and runs
// outside all repository locks so a slow strategy never stalls resolutions
// against other stubs.
type Resolver interface {
	Resolve(ctx context.Context, d *imposter.ResponseDescriptor, req imposter.Request, log *slog.Logger, stubs Access) (imposter.Response, error)
}

// Repository owns the ordered stub collection for one imposter. Insertion
// order is priority order: stubs are evaluated first-to-last and the first
// full match wins. It lives exactly as long as its imposter; teardown discards
// all stub state and history.
type Repository struct {
	engine   *predicates.Engine
	resolver Resolver
	fallback imposter.Response

	mu    sync.RWMutex
	stubs []*Stub
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithFallbackResponse overrides the empty-success payload served when no
// stub matches.
func WithFallbackResponse(resp imposter.Response) RepositoryOption {
	return func(r *Repository) {
		if resp != nil {
			r.fallback = resp
		}
	}
}

// NewRepository creates an empty repository.
func NewRepository(engine *predicates.Engine, resolver Resolver, opts ...RepositoryOption) *Repository {
	r := &Repository{
		engine:   engine,
		resolver: resolver,
		fallback: imposter.DefaultResponse(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddStub appends a stub to the collection. No validation happens here;
// callers validate predicate shape ahead of time with the engine's dry-run
// pass.
func (r *Repository) AddStub(s *Stub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs = append(r.stubs, s)
}

// Stubs returns a snapshot of the collection in current priority order.
func (r *Repository) Stubs() []*Stub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Stub(nil), r.stubs...)
}

// InsertBefore places s immediately before relativeTo.
func (r *Repository) InsertBefore(s, relativeTo *Stub) {
	r.insertAt(s, relativeTo, 0)
}

// InsertAfter places s immediately after relativeTo.
func (r *Repository) InsertAfter(s, relativeTo *Stub) {
	r.insertAt(s, relativeTo, 1)
}

func (r *Repository) insertAt(s, relativeTo *Stub, offset int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.stubs {
		if existing == relativeTo {
			at := i + offset
			r.stubs = append(r.stubs, nil)
			copy(r.stubs[at+1:], r.stubs[at:])
			r.stubs[at] = s
			return
		}
	}
	r.stubs = append(r.stubs, s)
}

// Resolve answers one request: select the first matching stub, rotate its
// response ring, execute the descriptor through the resolver, and record the
// match. When nothing matches, an implicit stub answers with the fallback
// payload and no history is written.
//
// Selection is a single synchronized snapshot; a concurrent AddStub changes
// future resolutions, never one already in flight. A malformed predicate
// rejects the call rather than skipping the stub.
func (r *Repository) Resolve(ctx context.Context, req imposter.Request, log *slog.Logger) (imposter.Response, error) {
	selected, err := r.selectStub(req, log)
	if err != nil {
		return nil, err
	}

	if selected == nil {
		log.Debug("no stub matched, using fallback response")
		fallback := &imposter.ResponseDescriptor{Is: r.fallback.Clone()}
		return r.resolver.Resolve(ctx, fallback, req, log, r)
	}

	descriptor := selected.NextResponse()
	log.Debug("stub matched", "stub", selected.ID, "strategy", descriptor.Kind())

	resp, err := r.resolver.Resolve(ctx, descriptor, req, log, r)
	if err != nil {
		return nil, err
	}

	selected.RecordMatch(req, resp)
	return resp, nil
}

// selectStub scans the current stub order and returns the first stub whose
// every top-level predicate entry holds. Absent predicates always match.
func (r *Repository) selectStub(req imposter.Request, log *slog.Logger) (*Stub, error) {
	for _, s := range r.Stubs() {
		if len(s.Predicates) == 0 {
			return s, nil
		}
		ok, err := r.engine.Matches("", s.Predicates, req, log)
		if err != nil {
			return nil, err
		}
		if ok {
			return s, nil
		}
	}
	return nil, nil
}
