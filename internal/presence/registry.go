// Package presence tracks which user currently owns which live connection.
package presence

import (
	"sync"

	"github.com/chatme/backend/internal/events"
)

// Handle is a live connection that can receive pushed events. Push must not
// block; a connection that cannot accept the event returns an error and the
// event is lost.
type Handle interface {
	ID() string
	Push(events.Outbound) error
}

// Registry maps each user to at most one live connection. The most recent
// registration for a user wins.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Handle
	byConn map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Handle),
		byConn: make(map[string]string),
	}
}

// Register binds userID to handle, replacing any previous connection for the
// user. A handle re-registering as a different user releases its old user.
func (r *Registry) Register(userID string, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := handle.ID()
	if prevUser, ok := r.byConn[connID]; ok && prevUser != userID {
		if current, ok := r.byUser[prevUser]; ok && current.ID() == connID {
			delete(r.byUser, prevUser)
		}
	}
	if prev, ok := r.byUser[userID]; ok && prev.ID() != connID {
		delete(r.byConn, prev.ID())
	}

	r.byUser[userID] = handle
	r.byConn[connID] = userID
}

// Lookup returns the live connection of userID.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byUser[userID]
	return h, ok
}

// Online reports whether userID has a live connection.
func (r *Registry) Online(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Unregister removes the entry pointing at handle and returns the user it
// belonged to. A handle that was already replaced leaves the newer entry
// untouched.
func (r *Registry) Unregister(handle Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := handle.ID()
	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)

	current, ok := r.byUser[userID]
	if !ok || current.ID() != connID {
		return "", false
	}
	delete(r.byUser, userID)
	return userID, true
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
