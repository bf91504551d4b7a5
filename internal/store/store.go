// Package store persists sessions. Memory and Postgres implement the same
// contract; RunContractTests holds both to it.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
)

// PlayerRef addresses a player either by id or by the connection currently
// bound to them. PlayerID wins when both are set.
type PlayerRef struct {
	PlayerID string
	ConnID   string
}

type Store interface {
	// CreateSession fails with engine.ErrDuplicateCode if a live session
	// already owns s.Code.
	CreateSession(ctx context.Context, s *engine.Session) error
	GetSessionByID(ctx context.Context, id string) (*engine.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*engine.Session, error)

	// AppendPlayer atomically checks id and nickname uniqueness and adds p at
	// the end of the roster.
	AppendPlayer(ctx context.Context, sessionID string, p engine.Player) (*engine.Session, error)

	// UpdatePlayerStatus sets the referenced player's status. A non-empty
	// connID replaces the player's connection.
	UpdatePlayerStatus(ctx context.Context, sessionID string, ref PlayerRef, status engine.PlayerStatus, connID string, at time.Time) (*engine.Session, error)

	// SaveSession replaces the stored record with s.
	SaveSession(ctx context.Context, s *engine.Session) error
	ListSessionIDs(ctx context.Context) ([]string, error)

	// DeleteSession is idempotent.
	DeleteSession(ctx context.Context, id string) error
	Close() error
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// applyStatus is the status transition both backends share.
func applyStatus(p *engine.Player, status engine.PlayerStatus, connID string, at time.Time) {
	p.Status = status
	if connID != "" {
		p.ConnID = connID
	}
	switch status {
	case engine.PlayerDisconnected:
		t := at
		p.DisconnectedAt = &t
	case engine.PlayerConnected:
		p.DisconnectedAt = nil
	}
}

func findRef(s *engine.Session, ref PlayerRef) int {
	if ref.PlayerID != "" {
		return engine.FindPlayer(s, ref.PlayerID)
	}
	return engine.FindPlayerByConn(s, ref.ConnID)
}
