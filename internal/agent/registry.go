package agent

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide store of live sessions. Lookups take only the
// registry lock, never any per-session lock, so a long-running turn on one
// session cannot stall lookups for another.
type Registry struct {
	mu           sync.RWMutex
	byID         map[string]*Session
	byRespondent map[int64]string // employee id -> active session id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:         make(map[string]*Session),
		byRespondent: make(map[int64]string),
	}
}

// NewSessionID mints a cryptographically random opaque id. Ids are never
// reused, even after expiry.
func NewSessionID() string { return uuid.NewString() }

// Add registers a session and indexes it by respondent. A respondent holds
// at most one live session; registering a second while one is live fails
// with ErrActiveSessionExists. The check and the insert happen under one
// lock, so concurrent starts for the same respondent cannot both win.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byRespondent[s.Employee.ID]; ok {
		if cur := r.byID[id]; cur != nil && !cur.Status().Terminal() {
			return fmt.Errorf("employee %d has session %s: %w", s.Employee.ID, id, ErrActiveSessionExists)
		}
	}
	r.byID[s.ID] = s
	r.byRespondent[s.Employee.ID] = s.ID
	return nil
}

// Get returns the session for id, or ErrNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// ActiveForRespondent resolves a respondent's live session, if any. Used for
// resume lookups; terminal sessions do not match.
func (r *Registry) ActiveForRespondent(employeeID int64) (*Session, bool) {
	r.mu.RLock()
	id, ok := r.byRespondent[employeeID]
	s := r.byID[id]
	r.mu.RUnlock()
	if !ok || s == nil || s.Status().Terminal() {
		return nil, false
	}
	return s, true
}

// ReleaseRespondent drops the respondent index entry when it still points at
// the given session. Called on terminal transitions.
func (r *Registry) ReleaseRespondent(employeeID int64, sessionID string) {
	r.mu.Lock()
	if r.byRespondent[employeeID] == sessionID {
		delete(r.byRespondent, employeeID)
	}
	r.mu.Unlock()
}

// Remove evicts a session entirely. Subsequent Gets return ErrNotFound.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	if s, ok := r.byID[id]; ok {
		delete(r.byID, id)
		if r.byRespondent[s.Employee.ID] == id {
			delete(r.byRespondent, s.Employee.ID)
		}
	}
	r.mu.Unlock()
}

// All snapshots the current session set (for the reaper sweep).
func (r *Registry) All() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()
	return out
}
