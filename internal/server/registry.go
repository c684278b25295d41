// Package server keeps the registry of live sessions, at most one per
// identity.
package server

import (
	"slices"
	"sync"
)

// Registry maps identities to their live session. All methods are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds s under its identity. If the identity is taken, policy
// decides: DuplicateEvict replaces the old session and returns it so the
// caller can close it, DuplicateReject leaves the registry unchanged and
// returns ok=false.
func (r *Registry) Register(s *Session, policy DuplicatePolicy) (evicted *Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, taken := r.sessions[s.Identity]; taken && existing != s {
		if policy == DuplicateReject {
			return nil, false
		}
		evicted = existing
	}
	r.sessions[s.Identity] = s
	return evicted, true
}

// Remove deletes whatever session is registered under identity. Removing an
// absent identity is a no-op.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	delete(r.sessions, identity)
	r.mu.Unlock()
}

// Release removes s only if it is still the registered session for its
// identity, so a replaced session cannot deregister its successor.
func (r *Registry) Release(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.Identity]; ok && current == s {
		delete(r.sessions, s.Identity)
		return true
	}
	return false
}

// Get returns the live session for identity.
func (r *Registry) Get(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// SnapshotExcept returns every session except the one registered under
// identity. The slice is a copy and may be used without holding any lock.
func (r *Registry) SnapshotExcept(identity string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id == identity {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Identities returns the registered identities in sorted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// CloseAll empties the registry and closes every session it held.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	clear(r.sessions)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}
