package usecase

import (
	"errors"
	"sort"
	"sync"
)

// ErrSessionOwned reports a session id already registered to another user.
var ErrSessionOwned = errors.New("presence: session belongs to another user")

// PresenceTracker maps live connection sessions to user identifiers. A user
// is online while at least one of their sessions is registered. All
// bookkeeping for a session happens under one lock, so the last disconnect
// and a concurrent connect for the same user cannot both win.
type PresenceTracker struct {
	mu       sync.Mutex
	sessions map[string]string
	users    map[string]map[string]struct{}
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		sessions: make(map[string]string),
		users:    make(map[string]map[string]struct{}),
	}
}

// Connect registers the session for userID and reports whether the user just came online.
// A session held by another user is left untouched.
func (p *PresenceTracker) Connect(sessionID, userID string) bool {
	joined, _ := p.Claim(sessionID, userID)
	return joined
}

// Claim registers the session for userID. It fails with ErrSessionOwned when
// the session id is registered to someone else; re-claiming one's own session
// is a no-op.
func (p *PresenceTracker) Claim(sessionID, userID string) (bool, error) {
	if sessionID == "" || userID == "" {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if owner, ok := p.sessions[sessionID]; ok {
		if owner != userID {
			return false, ErrSessionOwned
		}
		return false, nil
	}

	p.sessions[sessionID] = userID
	set, online := p.users[userID]
	if !online {
		set = make(map[string]struct{})
		p.users[userID] = set
	}
	set[sessionID] = struct{}{}

	return !online, nil
}

// Disconnect removes the session. It returns the owning user and whether that
// user went offline. Unknown sessions return an empty user.
func (p *PresenceTracker) Disconnect(sessionID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.sessions[sessionID]
	if !ok {
		return "", false
	}
	return userID, p.detachLocked(sessionID, userID)
}

// DisconnectOwned removes the session only when userID owns it and reports
// whether the user went offline. Unknown sessions are ignored.
func (p *PresenceTracker) DisconnectOwned(sessionID, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	owner, ok := p.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if owner != userID {
		return false, ErrSessionOwned
	}
	return p.detachLocked(sessionID, owner), nil
}

// OnlineUsers returns the online user identifiers in sorted order.
func (p *PresenceTracker) OnlineUsers() []string {
	p.mu.Lock()
	users := make([]string, 0, len(p.users))
	for userID := range p.users {
		users = append(users, userID)
	}
	p.mu.Unlock()

	sort.Strings(users)
	return users
}

// IsOnline reports whether the user has a live session.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.users[userID]
	return ok
}

// SessionCount returns how many sessions the user holds.
func (p *PresenceTracker) SessionCount(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users[userID])
}

// Clear drops every session. It exists for tests and operator resets.
func (p *PresenceTracker) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]string)
	p.users = make(map[string]map[string]struct{})
}

func (p *PresenceTracker) detachLocked(sessionID, userID string) bool {
	delete(p.sessions, sessionID)
	set := p.users[userID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(p.users, userID)
		return true
	}
	return false
}
