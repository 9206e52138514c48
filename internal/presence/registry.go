// Package presence tracks which users currently hold live realtime sessions.
package presence

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps a user identity to the set of live session identifiers for that user.
// The zero value is not usable; construct with NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]struct{}),
	}
}

// Register adds sessionID to the set held for userID. Registering the same pair twice is a no-op.
func (r *Registry) Register(userID, sessionID string) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]struct{})
		r.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
}

// Unregister removes sessionID from the set held for userID and drops the entry once it is empty.
// Unknown pairs are ignored.
func (r *Registry) Unregister(userID, sessionID string) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sessions[userID]
	if set == nil {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
}

// IsOnline reports whether userID has at least one registered session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[strings.TrimSpace(userID)]) > 0
}

// Sessions returns the number of sessions registered for userID.
func (r *Registry) Sessions(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[strings.TrimSpace(userID)])
}

// OnlineUsers returns the sorted identities that currently hold at least one session.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}
