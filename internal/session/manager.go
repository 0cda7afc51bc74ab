package session

import (
	"log/slog"
	"sync"
	"time"
)

// Limits bounds one session's growth.
type Limits struct {
	MaxMessages       int
	Timeout           time.Duration
	PruneAfter        int
	PruneToolMaxChars int
	FlushThreshold    int
}

// Manager owns all sessions, keyed by caller. The map has its own lock;
// each session additionally carries a per-caller mutex so token
// accounting, pruning and message ordering stay consistent under
// concurrent turns from the same caller.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	limits   Limits
}

type entry struct {
	mu      sync.Mutex
	session *Session
}

// NewManager creates a session manager with the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		limits:   limits,
	}
}

// Limits returns the configured session limits.
func (m *Manager) Limits() Limits { return m.limits }

func (m *Manager) get(callerID string) *entry {
	m.mu.RLock()
	e := m.sessions[callerID]
	m.mu.RUnlock()
	return e
}

// GetOrCreate returns the caller's session, replacing an expired one.
func (m *Manager) GetOrCreate(callerID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[callerID]; ok {
		e.mu.Lock()
		expired := e.session.isExpired(m.limits.Timeout)
		e.mu.Unlock()
		if !expired {
			return e.session
		}
		slog.Info("session expired, creating new", "caller", callerID)
	}

	s := newSession(callerID)
	m.sessions[callerID] = &entry{session: s}
	slog.Info("new session", "caller", callerID, "session", s.ID)
	return s
}

// WithSession runs fn with the caller's session under its lock. Returns
// false when the caller has no session.
func (m *Manager) WithSession(callerID string, fn func(*Session)) bool {
	e := m.get(callerID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.session)
	return true
}

// Append records a message on the caller's session, creating one if needed.
func (m *Manager) Append(callerID, role, content string, isToolResult bool) {
	m.GetOrCreate(callerID)
	m.WithSession(callerID, func(s *Session) {
		s.append(role, content, isToolResult, m.limits)
	})
}

// Context returns the formatted last-k-messages view for prompt assembly.
func (m *Manager) Context(callerID string, k int) string {
	var out string
	m.WithSession(callerID, func(s *Session) {
		out = s.contextString(k)
	})
	return out
}

// Compact keeps the trailing messages of the caller's session.
func (m *Manager) Compact(callerID string) {
	m.WithSession(callerID, func(s *Session) {
		s.compact()
	})
}

// NeedsFlush reports whether the caller's session exceeds the flush threshold.
func (m *Manager) NeedsFlush(callerID string) bool {
	var needs bool
	m.WithSession(callerID, func(s *Session) {
		needs = s.TotalTokens > m.limits.FlushThreshold
	})
	return needs
}

// Stats returns the observable snapshot of the caller's session.
func (m *Manager) Stats(callerID string) (Stats, bool) {
	var st Stats
	ok := m.WithSession(callerID, func(s *Session) {
		st = s.stats(m.limits.FlushThreshold)
	})
	return st, ok
}

// Facts returns the facts already mined from this session.
func (m *Manager) Facts(callerID string) []string {
	var facts []string
	m.WithSession(callerID, func(s *Session) {
		for f := range s.FactsSeen {
			facts = append(facts, f)
		}
	})
	return facts
}

// End removes the caller's session.
func (m *Manager) End(callerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callerID]; ok {
		delete(m.sessions, callerID)
		slog.Info("session ended", "caller", callerID)
	}
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ExpireIdle removes sessions idle past the timeout and returns the
// caller ids that were torn down.
func (m *Manager) ExpireIdle() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for caller, e := range m.sessions {
		e.mu.Lock()
		idle := e.session.isExpired(m.limits.Timeout)
		e.mu.Unlock()
		if idle {
			delete(m.sessions, caller)
			expired = append(expired, caller)
		}
	}
	if len(expired) > 0 {
		slog.Info("expired idle sessions", "count", len(expired))
	}
	return expired
}
