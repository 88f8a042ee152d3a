// Package stub implements the ordered stub collection behind one imposter:
// first-match selection, per-stub round-robin response rotation, and match
// history bookkeeping.
package stub

import (
	"sync"
	"time"

	"github.com/getstubd/stubd/internal/id"
	"github.com/getstubd/stubd/pkg/imposter"
)

// Stub is one configured rule: an optional predicate mapping (absence matches
// every request), a ring of response descriptors consumed round-robin, and an
// append-only match history.
//
// The ring position and history are guarded by a per-stub mutex so concurrent
// resolutions against the same stub observe a consistent rotation sequence
// with no position skipped or handed out twice, while resolutions against
// different stubs never contend.
type Stub struct {
	// ID uniquely identifies the stub within its repository.
	ID string

	// Predicates maps request fields (or operator names) to predicate nodes.
	// Nil or empty matches every request.
	Predicates map[string]any

	// Recorded marks stubs synthesized by proxy recording rather than
	// configured by the user.
	Recorded bool

	mu        sync.Mutex
	responses []*imposter.ResponseDescriptor
	next      int
	matches   []imposter.MatchRecord
}

// New builds a runtime stub from its configuration. The descriptor pointers
// are retained; descriptor identity is what ties a resolution back to its
// owning stub during proxy recording.
func New(cfg imposter.StubConfig) *Stub {
	return &Stub{
		ID:         id.UUID(),
		Predicates: cfg.Predicates,
		responses:  append([]*imposter.ResponseDescriptor(nil), cfg.Responses...),
	}
}

// NewRecorded builds a replay stub synthesized from a proxied exchange.
func NewRecorded(predicates map[string]any, resp imposter.Response) *Stub {
	return &Stub{
		ID:         id.UUID(),
		Predicates: predicates,
		Recorded:   true,
		responses:  []*imposter.ResponseDescriptor{{Is: resp}},
	}
}

// NextResponse advances the rotation: it returns the descriptor at the current
// ring position and moves the position forward. The step is atomic with
// respect to other resolutions against this stub.
func (s *Stub) NextResponse() *imposter.ResponseDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil
	}
	d := s.responses[s.next]
	s.next = (s.next + 1) % len(s.responses)
	return d
}

// AddResponse appends a descriptor to the tail of the ring.
func (s *Stub) AddResponse(d *imposter.ResponseDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, d)
}

// HasResponse reports whether the descriptor (by identity) belongs to this
// stub's ring.
func (s *Stub) HasResponse(d *imposter.ResponseDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r == d {
			return true
		}
	}
	return false
}

// Responses returns a snapshot of the ring in configured order.
func (s *Stub) Responses() []*imposter.ResponseDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*imposter.ResponseDescriptor(nil), s.responses...)
}

// RecordMatch appends a match record. History only grows; it is discarded
// with the stub when the owning repository is torn down.
func (s *Stub) RecordMatch(req imposter.Request, resp imposter.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, imposter.MatchRecord{
		Timestamp: time.Now(),
		Request:   req,
		Response:  resp,
	})
}

// Matches returns a snapshot of the match history.
func (s *Stub) Matches() []imposter.MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]imposter.MatchRecord(nil), s.matches...)
}
