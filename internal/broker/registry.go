package broker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"market-broker/pkg/wire"
)

// registry tracks every registered session by client id. Sessions appear
// here only after a completed handshake.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*session)}
}

func (r *registry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// remove reports whether the id was present, so callers can tell a first
// teardown from a repeat.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

func (r *registry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// all returns a snapshot slice; callers iterate without holding the lock.
func (r *registry) all() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *registry) byRole(role wire.Role) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*session
	for _, s := range r.sessions {
		if s.role == role {
			out = append(out, s)
		}
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// mintID builds a client id like "buyer-9f3acc01": the lowercased role plus
// the first uuid segment, short enough to read in logs yet unique enough
// for a broker's lifetime.
func mintID(role wire.Role) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(string(role)), uuid.NewString()[:8])
}
