// Package coordinator is the entry point for every client action. It resolves
// codes and ids to the owning room, keeps the presence tracker in step with
// connections, and runs the periodic cleanup sweep.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/internal/hub"
	"github.com/DoyleJ11/showdown-backend/internal/presence"
	"github.com/DoyleJ11/showdown-backend/internal/store"
)

type Config struct {
	MaxPlayers        int
	MaxCommunityCards int
	DisconnectGrace   time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
}

type Coordinator struct {
	store    store.Store
	hub      *hub.Hub
	presence *presence.Tracker
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

func New(st store.Store, h *hub.Hub, tr *presence.Tracker, log *zap.Logger, cfg Config) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		store:    st,
		hub:      h,
		presence: tr,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Result is the outcome of a reconnect through the host path.
type Result struct {
	Session     *engine.Session
	RoleChanged bool
	Message     string
}

// CreateGame opens a lobby with the host as its only player. An empty
// sessionID is replaced by a fresh uuid.
func (c *Coordinator) CreateGame(ctx context.Context, connID, sessionID, code, hostID, nickname string) (*engine.Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || hostID == "" || strings.TrimSpace(nickname) == "" {
		return nil, engine.ErrMissingFields
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if _, err := c.store.GetSessionByCode(ctx, code); err == nil {
		return nil, engine.ErrDuplicateCode
	} else if !errors.Is(err, engine.ErrSessionNotFound) {
		return nil, err
	}

	s := engine.NewSession(sessionID, code, hostID, nickname, connID, c.now())
	if c.cfg.MaxCommunityCards > 0 {
		s.MaxCommunityCards = c.cfg.MaxCommunityCards
	}
	if err := c.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	if _, err := c.hub.Ensure(ctx, s.ID); err != nil {
		return nil, err
	}
	if connID != "" {
		c.presence.Bind(connID, s.ID, hostID)
	}
	c.log.Info("game created",
		zap.String("session_id", s.ID),
		zap.String("code", s.Code),
		zap.String("player_id", hostID))
	return s, nil
}

// JoinGame adds a player by join code. A player id already on the roster is
// treated as a reconnect.
func (c *Coordinator) JoinGame(ctx context.Context, connID, code, playerID, nickname string) (*engine.Session, error) {
	if strings.TrimSpace(code) == "" || playerID == "" || strings.TrimSpace(nickname) == "" {
		return nil, engine.ErrMissingFields
	}
	s, err := c.store.GetSessionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	cmd := engine.Command{Type: engine.CmdJoin, PlayerID: playerID, Nickname: nickname, ConnID: connID}
	return c.do(ctx, s.ID, cmd, connID)
}

func (c *Coordinator) ReconnectPlayer(ctx context.Context, connID, sessionID, playerID string) (*engine.Session, error) {
	if playerID == "" {
		return nil, engine.ErrMissingFields
	}
	cmd := engine.Command{Type: engine.CmdReconnect, PlayerID: playerID, ConnID: connID}
	return c.do(ctx, sessionID, cmd, connID)
}

// ReconnectHost reconnects a former host. If the role moved on while they were
// away they come back as a regular player and Result says so.
func (c *Coordinator) ReconnectHost(ctx context.Context, connID, sessionID, hostID string) (Result, error) {
	if sessionID == "" || hostID == "" {
		return Result{}, engine.ErrMissingFields
	}
	r, err := c.hub.Ensure(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	res := r.ReconnectHost(ctx, hostID, connID)
	if res.Err != nil {
		return Result{}, res.Err
	}
	return Result{Session: res.Session, RoleChanged: res.RoleChanged, Message: res.Message}, nil
}

func (c *Coordinator) LeaveGame(ctx context.Context, connID, sessionID, playerID, reason string) (*engine.Session, error) {
	if reason == "" {
		reason = "left"
	}
	s, err := c.do(ctx, sessionID, engine.Command{Type: engine.CmdLeave, PlayerID: playerID, Reason: reason}, "")
	if err != nil {
		return nil, err
	}
	if sid, pid, ok := c.presence.Lookup(connID); ok && sid == sessionID && pid == playerID {
		c.presence.Unbind(connID)
	}
	return s, nil
}

func (c *Coordinator) EndGame(ctx context.Context, sessionID, hostID, reason string) (*engine.Session, error) {
	if reason == "" {
		reason = "host-ended"
	}
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdEnd, PlayerID: hostID, Reason: reason}, "")
}

func (c *Coordinator) VolunteerHost(ctx context.Context, sessionID, playerID string) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdTransferHost, PlayerID: playerID}, "")
}

func (c *Coordinator) StartRound(ctx context.Context, sessionID, hostID string, round int) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdStartRound, PlayerID: hostID, Round: round}, "")
}

func (c *Coordinator) DealCommunityCard(ctx context.Context, sessionID, hostID string) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdDealCommunityCard, PlayerID: hostID}, "")
}

func (c *Coordinator) SubmitRisk(ctx context.Context, sessionID, playerID string, amount int) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: playerID, Amount: amount}, "")
}

func (c *Coordinator) RevealRisks(ctx context.Context, sessionID, hostID string) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdRevealRisks, PlayerID: hostID}, "")
}

func (c *Coordinator) DeclareWinner(ctx context.Context, sessionID, hostID, winnerID string) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdDeclareWinner, PlayerID: hostID, TargetID: winnerID}, "")
}

func (c *Coordinator) ReenterPlayer(ctx context.Context, sessionID, playerID string) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdReenter, PlayerID: playerID}, "")
}

func (c *Coordinator) SetAway(ctx context.Context, sessionID, playerID string) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdSetAway, PlayerID: playerID}, "")
}

func (c *Coordinator) SetActive(ctx context.Context, sessionID, playerID string) (*engine.Session, error) {
	return c.do(ctx, sessionID, engine.Command{Type: engine.CmdSetActive, PlayerID: playerID}, "")
}

// Heartbeat refreshes the connection and returns the server time in
// milliseconds.
func (c *Coordinator) Heartbeat(connID string) int64 {
	now := c.now()
	c.presence.Touch(connID, now)
	return now.UnixMilli()
}

// Disconnect marks whoever connID speaks for as disconnected. Connections
// that were never bound, or were replaced by a reconnect, are ignored.
func (c *Coordinator) Disconnect(ctx context.Context, connID, reason string) error {
	sessionID, playerID, ok := c.presence.Lookup(connID)
	if !ok {
		return nil
	}
	c.presence.Unbind(connID)

	r, err := c.hub.Ensure(ctx, sessionID)
	if err != nil {
		return err
	}
	res := r.Do(ctx, engine.Command{Type: engine.CmdDisconnect, ConnID: connID, Reason: reason}, "")
	switch {
	case res.Err == nil:
		c.log.Debug("player disconnected",
			zap.String("session_id", sessionID),
			zap.String("player_id", playerID),
			zap.String("conn_id", connID))
		return nil
	case errors.Is(res.Err, engine.ErrPlayerNotFound), errors.Is(res.Err, engine.ErrSessionNotFound):
		return nil
	default:
		return res.Err
	}
}

// Lookup returns a stored session by join code.
func (c *Coordinator) Lookup(ctx context.Context, code string) (*engine.Session, error) {
	return c.store.GetSessionByCode(ctx, code)
}

// Sweep runs one cleanup pass over every stored session.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) error {
	ids, err := c.store.ListSessionIDs(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, id := range ids {
		r, err := c.hub.Ensure(ctx, id)
		if err != nil {
			return multierr.Append(errs, err)
		}
		res := r.Sweep(ctx, now, c.cfg.DisconnectGrace, c.cfg.IdleTimeout)
		if res.Err != nil && !errors.Is(res.Err, engine.ErrSessionNotFound) {
			errs = multierr.Append(errs, res.Err)
		}
	}
	return errs
}

// RunSweeper sweeps every SweepInterval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context) error {
	interval := c.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := c.Sweep(ctx, c.now()); err != nil {
				c.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (c *Coordinator) do(ctx context.Context, sessionID string, cmd engine.Command, connID string) (*engine.Session, error) {
	if sessionID == "" {
		return nil, engine.ErrMissingFields
	}
	r, err := c.hub.Ensure(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := r.Do(ctx, cmd, connID)
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Session, nil
}

// MaxPlayers is the roster limit applied to joins, 0 for none.
func (c *Coordinator) MaxPlayers() int { return c.cfg.MaxPlayers }
