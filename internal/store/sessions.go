// Package store provides storage for call sessions and call records.
//
// Storage is organized into two categories:
//
//  1. Ephemeral: active call sessions, held in memory with time-based
//     eviction of terminal sessions (SessionStore).
//  2. Persistent: call records written once a session reaches a terminal
//     state, backed by SQLite (RecordRepository).
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/dialdesk/internal/call"
)

// SessionStore is the in-memory registry of call sessions. It owns
// session lifetime: sessions are added on accept and purged once they
// have been terminal for longer than the retention window. A secondary
// index maps provider call IDs to session IDs so asynchronous provider
// events can be routed without scanning.
//
// The store performs no business logic; all state transitions happen on
// the sessions themselves under their own locks. Store locks are held
// only for map access.
type SessionStore struct {
	mu         sync.RWMutex
	sessions   map[string]*call.Session // session ID -> session
	byProvider map[string]string        // provider call ID -> session ID

	retention time.Duration
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	onEvict   func(snap *call.Snapshot) // optional, called outside store locks
}

// SessionStoreConfig holds session store settings.
type SessionStoreConfig struct {
	// Retention is how long a terminal session stays queryable before
	// it is purged. Active sessions are never evicted.
	Retention time.Duration

	// CleanupInterval is how often the reaper runs.
	CleanupInterval time.Duration
}

// DefaultSessionStoreConfig returns sensible defaults.
func DefaultSessionStoreConfig() SessionStoreConfig {
	return SessionStoreConfig{
		Retention:       5 * time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

// NewSessionStore creates a session store and starts its reaper goroutine.
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	s := &SessionStore{
		sessions:   make(map[string]*call.Session),
		byProvider: make(map[string]string),
		retention:  cfg.Retention,
		interval:   cfg.CleanupInterval,
		stopCh:     make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// SetOnEvict sets a callback invoked for each session purged by the
// reaper. Called without store locks held.
func (s *SessionStore) SetOnEvict(fn func(snap *call.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Add registers a new session.
func (s *SessionStore) Add(sess *call.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess
}

// Get returns a session by its ID.
func (s *SessionStore) Get(sessionID string) (*call.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// BindProviderCallID indexes a session under the provider's call ID so
// later provider events can be routed to it.
func (s *SessionStore) BindProviderCallID(sessionID, providerCallID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return
	}
	s.byProvider[providerCallID] = sessionID
}

// GetByProviderCallID returns the session bound to a provider call ID.
func (s *SessionStore) GetByProviderCallID(providerCallID string) (*call.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.byProvider[providerCallID]
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

// Remove deletes a session and its provider index entry.
func (s *SessionStore) Remove(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	delete(s.sessions, sessionID)
	if pid := sess.ProviderCallID(); pid != "" {
		delete(s.byProvider, pid)
	}
	return true
}

// Count returns the number of sessions currently held.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveCount returns the number of non-terminal sessions.
func (s *SessionStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sess := range s.sessions {
		if !sess.IsTerminal() {
			count++
		}
	}
	return count
}

// ForEach iterates over all sessions. Return false from fn to stop early.
func (s *SessionStore) ForEach(fn func(sess *call.Session) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if !fn(sess) {
			break
		}
	}
}

// Close stops the reaper goroutine.
func (s *SessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// reapLoop periodically purges expired terminal sessions.
func (s *SessionStore) reapLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reap()
		case <-s.stopCh:
			return
		}
	}
}

// reap removes sessions that have been terminal longer than the retention
// window. Eviction callbacks run outside the critical section.
func (s *SessionStore) reap() {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	var evicted []*call.Snapshot
	for id, sess := range s.sessions {
		snap := sess.Snapshot()
		if !snap.State.IsTerminal() || snap.UpdatedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		if snap.ProviderCallID != "" {
			delete(s.byProvider, snap.ProviderCallID)
		}
		evicted = append(evicted, snap)
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	for _, snap := range evicted {
		slog.Debug("[Store] Purged terminal session",
			"session_id", snap.SessionID,
			"state", snap.State.String(),
		)
		if onEvict != nil {
			onEvict(snap)
		}
	}
}
