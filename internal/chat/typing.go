package chat

import (
	"sort"
	"sync"
	"time"
)

// TypingState records that a connection is composing a message.
type TypingState struct {
	ConnID   string
	Username string
	Since    time.Time
}

// TypingTracker keeps the transient per-connection typing markers. Markers
// never enter the history.
type TypingTracker struct {
	mu     sync.RWMutex
	states map[string]TypingState
	now    func() time.Time
}

// NewTypingTracker returns an empty tracker.
func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		states: make(map[string]TypingState),
		now:    time.Now,
	}
}

// SetTyping records or refreshes the marker for connID.
func (t *TypingTracker) SetTyping(connID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[connID] = TypingState{ConnID: connID, Username: username, Since: t.now()}
}

// ClearTyping removes the marker for connID and reports whether one existed.
// Clearing an unknown connection is a no-op.
func (t *TypingTracker) ClearTyping(connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.states[connID]
	delete(t.states, connID)
	return ok
}

// IsTyping reports whether connID currently has a marker.
func (t *TypingTracker) IsTyping(connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.states[connID]
	return ok
}

// Count returns the number of connections currently typing.
func (t *TypingTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// Expire removes and returns every marker older than ttl. A non-positive
// ttl disables expiry.
func (t *TypingTracker) Expire(ttl time.Duration) []TypingState {
	if ttl <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-ttl)
	var expired []TypingState
	for id, st := range t.states {
		if !st.Since.After(cutoff) {
			expired = append(expired, st)
			delete(t.states, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].Since.Equal(expired[j].Since) {
			return expired[i].ConnID < expired[j].ConnID
		}
		return expired[i].Since.Before(expired[j].Since)
	})
	return expired
}
