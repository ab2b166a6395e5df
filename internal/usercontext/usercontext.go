// Package usercontext owns the process-wide identity state that telemetry
// records are enriched with: the current user id, the current session id
// and the global context map.
//
// Writes are serialized with a mutex. Reads return an immutable snapshot so
// that concurrent record fan-out observes a consistent view.
package usercontext

import (
	"maps"
	"sync"

	"github.com/hson89/the-overwatch/internal/randomid"
)

const sessionIDLength = 16

// Snapshot is a consistent, caller-owned copy of the context state.
type Snapshot struct {
	UserID        string
	SessionID     string
	GlobalContext map[string]any
}

type State struct {
	mu sync.RWMutex

	userID    string
	sessionID string
	global    map[string]any
	userProps map[string]any
}

// New creates context state. An empty sessionID gets a generated one; the
// session id then persists until StartNewSession.
func New(userID, sessionID string, global map[string]any) *State {
	if sessionID == "" {
		sessionID = randomid.New(sessionIDLength)
	}
	s := &State{
		userID:    userID,
		sessionID: sessionID,
		global:    map[string]any{},
		userProps: map[string]any{},
	}
	maps.Copy(s.global, global)
	return s
}

func (s *State) SetUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

func (s *State) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetUserProperties merges the given properties into the stored user
// properties.
func (s *State) SetUserProperties(props map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.userProps, props)
}

// UserProperties returns a copy of the stored user properties.
func (s *State) UserProperties() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.userProps)
}

// StartNewSession regenerates the session id and returns it.
func (s *State) StartNewSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = randomid.New(sessionIDLength)
	return s.sessionID
}

func (s *State) AddGlobalContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global[key] = value
}

func (s *State) RemoveGlobalContext(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.global, key)
}

// Get returns a consistent snapshot of the context. The returned map is a
// copy; mutating it does not affect the state.
func (s *State) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		UserID:        s.userID,
		SessionID:     s.sessionID,
		GlobalContext: maps.Clone(s.global),
	}
}
