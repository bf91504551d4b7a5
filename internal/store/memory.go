package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
)

// Memory keeps sessions in process memory. Values are cloned on the way in
// and out so callers never share state with the map.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*engine.Session
	codes    map[string]string // code -> session id
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*engine.Session),
		codes:    make(map[string]string),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *engine.Session) error {
	if s == nil || s.ID == "" || s.Code == "" {
		return engine.ErrMissingFields
	}
	code := normalizeCode(s.Code)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.codes[code]; taken {
		return engine.ErrDuplicateCode
	}
	if _, taken := m.sessions[s.ID]; taken {
		return engine.ErrDuplicateCode
	}
	c := s.Clone()
	c.Code = code
	m.sessions[c.ID] = c
	m.codes[code] = c.ID
	return nil
}

func (m *Memory) GetSessionByID(_ context.Context, id string) (*engine.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) GetSessionByCode(ctx context.Context, code string) (*engine.Session, error) {
	m.mu.RLock()
	id, ok := m.codes[normalizeCode(code)]
	m.mu.RUnlock()
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	return m.GetSessionByID(ctx, id)
}

func (m *Memory) AppendPlayer(_ context.Context, sessionID string, p engine.Player) (*engine.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	if engine.FindPlayer(s, p.ID) >= 0 {
		return nil, engine.ErrPlayerExists
	}
	if engine.NicknameTaken(s, p.Nickname) {
		return nil, engine.ErrNicknameTaken
	}
	p.IsHost = p.ID == s.HostID
	s.Players = append(s.Players, p)
	s.LastActivity = p.JoinedAt
	return s.Clone(), nil
}

func (m *Memory) UpdatePlayerStatus(_ context.Context, sessionID string, ref PlayerRef, status engine.PlayerStatus, connID string, at time.Time) (*engine.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, engine.ErrSessionNotFound
	}
	i := findRef(s, ref)
	if i < 0 {
		return nil, engine.ErrPlayerNotFound
	}
	applyStatus(&s.Players[i], status, connID, at)
	s.LastActivity = at
	return s.Clone(), nil
}

func (m *Memory) SaveSession(_ context.Context, s *engine.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.sessions[s.ID]
	if !ok {
		return engine.ErrSessionNotFound
	}
	c := s.Clone()
	c.Code = old.Code
	m.sessions[c.ID] = c
	return nil
}

func (m *Memory) ListSessionIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		delete(m.codes, s.Code)
		delete(m.sessions, id)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
