package conversation

import (
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const DefaultMaxSessions = 1000

// Manager is a bounded registry of sessions. Evicting a session only
// forgets its conversation state.
type Manager struct {
	sessions *lru.Cache[string, *Session]
	opts     Options
}

func NewManager(maxSessions int, opts Options) (*Manager, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	opts.defaults()
	c, err := lru.NewWithEvict[string, *Session](maxSessions, func(id string, _ *Session) {
		log.Debug().Str("session", id).Msg("session evicted")
	})
	if err != nil {
		return nil, fmt.Errorf("create session registry: %w", err)
	}
	return &Manager{sessions: c, opts: opts}, nil
}

// Create registers a session under a fresh id.
func (m *Manager) Create() *Session {
	s := NewSession(uuid.NewString(), m.opts)
	m.sessions.Add(s.ID, s)
	return s
}

func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

// GetOrCreate returns the session for id. Unknown but well-formed ids are
// recreated so clients keep their id across restarts; anything else gets a
// fresh session.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool) {
	if id != "" {
		if s, ok := m.sessions.Get(id); ok {
			return s, false
		}
		if _, err := uuid.Parse(id); err == nil {
			s = NewSession(id, m.opts)
			if prev, ok, _ := m.sessions.PeekOrAdd(id, s); ok {
				return prev, false
			}
			return s, true
		}
	}
	return m.Create(), true
}

// Reset clears a session's state. It reports whether the session existed.
func (m *Manager) Reset(id string) bool {
	s, ok := m.sessions.Get(id)
	if !ok {
		return false
	}
	s.Reset()
	return true
}

// Drop removes a session from the registry.
func (m *Manager) Drop(id string) {
	m.sessions.Remove(id)
}

func (m *Manager) Len() int {
	return m.sessions.Len()
}
