// Package presence maps live connections to the session and player they speak
// for, and fans messages out to a session's room.
package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultBuffer = 64

// Conn is one live client connection. Send is drained by the transport's
// writer and closed by Unregister.
type Conn struct {
	ID        string
	SessionID string
	PlayerID  string
	Send      chan []byte
	LastSeen  time.Time
}

type Tracker struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	rooms   map[string]map[string]struct{} // session id -> conn ids
	log     *zap.Logger
	bufSize int
}

func New(log *zap.Logger, bufSize int) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	return &Tracker{
		conns:   make(map[string]*Conn),
		rooms:   make(map[string]map[string]struct{}),
		log:     log,
		bufSize: bufSize,
	}
}

// Register adds an unbound connection and returns it. Registering an id twice
// returns the existing connection.
func (t *Tracker) Register(connID string, at time.Time) *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[connID]; ok {
		return c
	}
	c := &Conn{ID: connID, Send: make(chan []byte, t.bufSize), LastSeen: at}
	t.conns[connID] = c
	return c
}

// Bind attaches connID to a session's room as playerID, leaving any room it
// was in before. It reports false for unknown connections.
func (t *Tracker) Bind(connID, sessionID, playerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[connID]
	if !ok {
		return false
	}
	t.leaveLocked(c)
	c.SessionID = sessionID
	c.PlayerID = playerID
	if t.rooms[sessionID] == nil {
		t.rooms[sessionID] = make(map[string]struct{})
	}
	t.rooms[sessionID][connID] = struct{}{}
	t.log.Debug("connection bound",
		zap.String("conn_id", connID),
		zap.String("session_id", sessionID),
		zap.String("player_id", playerID))
	return true
}

// Unbind detaches connID from its room but keeps it registered.
func (t *Tracker) Unbind(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[connID]; ok {
		t.leaveLocked(c)
	}
}

func (t *Tracker) Lookup(connID string) (sessionID, playerID string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[connID]
	if !ok || c.SessionID == "" {
		return "", "", false
	}
	return c.SessionID, c.PlayerID, true
}

func (t *Tracker) Touch(connID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[connID]; ok {
		c.LastSeen = at
	}
}

// Broadcast queues msg for every connection in the session's room except
// those bound to exceptPlayer. Full buffers drop the message; delivery is
// best effort. It returns how many connections accepted it.
func (t *Tracker) Broadcast(sessionID string, msg []byte, exceptPlayer string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sent := 0
	for id := range t.rooms[sessionID] {
		c := t.conns[id]
		if exceptPlayer != "" && c.PlayerID == exceptPlayer {
			continue
		}
		if t.offer(c, msg) {
			sent++
		}
	}
	return sent
}

// Send queues msg for a single connection.
func (t *Tracker) Send(connID string, msg []byte) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[connID]
	if !ok {
		return false
	}
	return t.offer(c, msg)
}

// CloseSession empties a session's room. Connections stay registered and can
// join another session.
func (t *Tracker) CloseSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.rooms[sessionID] {
		if c, ok := t.conns[id]; ok {
			c.SessionID = ""
			c.PlayerID = ""
		}
	}
	delete(t.rooms, sessionID)
}

// Unregister forgets connID and closes its Send channel.
func (t *Tracker) Unregister(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[connID]
	if !ok {
		return
	}
	t.leaveLocked(c)
	delete(t.conns, connID)
	close(c.Send)
}

func (t *Tracker) Count(sessionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms[sessionID])
}

func (t *Tracker) leaveLocked(c *Conn) {
	if c.SessionID == "" {
		return
	}
	if m, ok := t.rooms[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(t.rooms, c.SessionID)
		}
	}
	c.SessionID = ""
	c.PlayerID = ""
}

// offer must be called with at least the read lock held so Send cannot be
// closed underneath it.
func (t *Tracker) offer(c *Conn, msg []byte) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		t.log.Warn("send buffer full, dropping message",
			zap.String("conn_id", c.ID),
			zap.String("session_id", c.SessionID),
			zap.String("player_id", c.PlayerID))
		return false
	}
}
