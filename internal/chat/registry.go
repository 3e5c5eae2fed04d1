package chat

import (
	"errors"
	"sync"
	"time"
)

// ErrEmptyConnID is returned when an operation is given a blank connection id.
var ErrEmptyConnID = errors.New("connection id is empty")

// Registry maps live connections to their sessions and is the source of
// truth for who is online. Usernames are accepted as-is; duplicates and
// empty names are allowed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
	now      func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Join creates the session for connID, or overwrites it if the connection
// already joined. An overwritten session keeps its position in List.
func (r *Registry) Join(connID, username string) (Session, error) {
	if connID == "" {
		return Session{}, ErrEmptyConnID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Session{ConnID: connID, Username: username, JoinedAt: r.now()}
	if _, exists := r.sessions[connID]; !exists {
		r.order = append(r.order, connID)
	}
	r.sessions[connID] = s
	return s, nil
}

// Leave removes and returns the session for connID. The boolean is false if
// the connection never joined or already left.
func (r *Registry) Leave(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s, true
}

// Get returns the session for connID.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// List returns a point-in-time copy of all sessions in join order.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
