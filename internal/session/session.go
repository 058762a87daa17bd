// Package session manages in-memory chat sessions: each holds a
// rolling message history used as conversational context for the SQL
// generator, and expires after a period of inactivity. Sessions are
// never persisted — a process restart drops them, matching the
// stateless-between-deploys nature of the rest of this service.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one turn of chat history.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// Session is a single conversation's accumulated history.
type Session struct {
	ID           string
	Messages     []Message
	CreatedAt    time.Time
	LastActivity time.Time
}

// addMessage appends a message and bumps LastActivity. Callers must
// hold the Manager's lock.
func (s *Session) addMessage(role, content string, metadata map[string]any) Message {
	msg := Message{Role: role, Content: content, Timestamp: time.Now(), Metadata: metadata}
	s.Messages = append(s.Messages, msg)
	s.LastActivity = msg.Timestamp
	return msg
}

// Manager holds every active session in memory, guarded by a single
// mutex: unlike the original (one process, one request at a time),
// this service's HTTP handlers run concurrently, so every lookup,
// mutation, and sweep needs to serialize against the others.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewManager builds a Manager whose sessions expire after ttl of
// inactivity.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{sessions: map[string]*Session{}, ttl: ttl}
}

// Create starts a new, empty session with a fresh random ID.
func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := &Session{ID: uuid.NewString(), CreatedAt: now, LastActivity: now}
	m.sessions[s.ID] = s
	return s
}

// Get returns the session by ID, or nil if it doesn't exist or has
// expired (an expired session is evicted on the lookup that finds it).
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *Manager) getLocked(id string) *Session {
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if time.Since(s.LastActivity) > m.ttl {
		delete(m.sessions, id)
		return nil
	}
	return s
}

// GetOrCreate returns the live session for id, or starts a new one if
// id is empty or names an unknown/expired session.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	if id != "" {
		if s := m.getLocked(id); s != nil {
			m.mu.Unlock()
			return s
		}
	}
	m.mu.Unlock()
	return m.Create()
}

// AddMessage appends a message to the named session. Returns nil
// (without error) if the session doesn't exist — the original
// returns None for the same case rather than raising.
func (m *Manager) AddMessage(id, role, content string, metadata map[string]any) *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getLocked(id)
	if s == nil {
		return nil
	}
	msg := s.addMessage(role, content, metadata)
	return &msg
}

// ConversationHistory returns up to the last maxMessages turns of a
// session's history as role/content pairs, ready to hand to the SQL
// generator. An unknown session yields an empty slice.
func (m *Manager) ConversationHistory(id string, maxMessages int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getLocked(id)
	if s == nil {
		return nil
	}
	start := 0
	if len(s.Messages) > maxMessages {
		start = len(s.Messages) - maxMessages
	}
	out := make([]Message, len(s.Messages)-start)
	copy(out, s.Messages[start:])
	return out
}

// CleanupExpired evicts every session whose last activity is older
// than the TTL, returning how many were removed.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Count reports the number of sessions currently held, expired or
// not — matching the original's unchecked len(self._sessions).
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
