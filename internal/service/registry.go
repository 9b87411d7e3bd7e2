package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/attempt"
)

// liveAttempt is one attempt session held in memory. mu guards every field
// below it, including the session.
type liveAttempt struct {
	id        uuid.UUID
	studentID int

	mu         sync.Mutex
	session    *attempt.Session
	lastActive time.Time
	lastSaved  time.Time
	// lastTick is the wall-clock instant up to which the countdown has
	// been charged.
	lastTick time.Time
	// closed is set once the attempt left the registry; holders of a stale
	// pointer must not touch the session.
	closed bool
}

// Registry maps attempt ids to their live sessions.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*liveAttempt
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*liveAttempt)}
}

// Get returns the live attempt for id.
func (r *Registry) Get(id uuid.UUID) (*liveAttempt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	la, ok := r.entries[id]
	return la, ok
}

// Add registers la unless another entry won the race, in which case the
// existing entry is returned with false.
func (r *Registry) Add(la *liveAttempt) (*liveAttempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[la.id]; ok {
		return existing, false
	}
	r.entries[la.id] = la
	return la, true
}

// Remove drops la if it is still the registered entry for its id.
func (r *Registry) Remove(la *liveAttempt) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[la.id] != la {
		return false
	}
	delete(r.entries, la.id)
	return true
}

// List returns the current entries in no particular order.
func (r *Registry) List() []*liveAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*liveAttempt, 0, len(r.entries))
	for _, la := range r.entries {
		out = append(out, la)
	}
	return out
}

// Len returns the number of live attempts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
