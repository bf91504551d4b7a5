// Package room runs one goroutine per live session. Every mutation of that
// session (client requests, timer ticks, cleanup sweeps) is a message in the
// room's inbox, so they are applied strictly one at a time.
package room

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/showdown-backend/internal/continuity"
	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/internal/presence"
	"github.com/DoyleJ11/showdown-backend/internal/store"
	"github.com/DoyleJ11/showdown-backend/internal/timer"
	"github.com/DoyleJ11/showdown-backend/pkg/types"
)

const (
	storeTimeout = 5 * time.Second

	ReasonIdle    = "idle-timeout"
	ReasonTimeout = "disconnect-timeout"
)

type Settings struct {
	AbsenceSeconds   int
	VolunteerSeconds int
	RiskTimerSeconds int
	TickInterval     time.Duration
	MaxPlayers       int
	StartingPoints   int
}

type Deps struct {
	Store    store.Store
	Presence *presence.Tracker
	Log      *zap.Logger
	Now      func() time.Time
	Settings Settings

	// OnClose runs once when the room stops.
	OnClose func(r *Room)
}

type timerKind int

const (
	hostTimer timerKind = iota
	riskTimer
)

type Room struct {
	id     string
	inbox  chan Msg
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	deps   Deps
	log    *zap.Logger
	host   *continuity.Manager
	risk   *timer.Countdown
	closed bool
}

func New(parent context.Context, sessionID string, deps Deps) *Room {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Room{
		id:     sessionID,
		inbox:  make(chan Msg, 64),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		deps:   deps,
		log:    deps.Log.With(zap.String("session_id", sessionID)),
	}
	interval := deps.Settings.TickInterval
	r.host = continuity.New(continuity.Config{
		AbsenceSeconds:   deps.Settings.AbsenceSeconds,
		VolunteerSeconds: deps.Settings.VolunteerSeconds,
	}, timer.New(interval, r.poster(hostTimer)))
	r.risk = timer.New(interval, r.poster(riskTimer))

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Inbox exposes the raw inbox for tests and the hub.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the room has stopped.
func (r *Room) Done() <-chan struct{} { return r.done }

// Close stops the room without touching the stored session.
func (r *Room) Close() { r.cancel() }

func (r *Room) poster(kind timerKind) timer.PostFunc {
	return func(ctx context.Context, gen uint64) {
		select {
		case r.inbox <- tick{kind: kind, gen: gen}:
		case <-ctx.Done():
		case <-r.done:
		}
	}
}

func (r *Room) loop() {
	defer func() {
		r.host.Stop()
		r.risk.Stop()
		r.cancel()
		close(r.done)
		if r.deps.OnClose != nil {
			r.deps.OnClose(r)
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case command:
				msg.reply <- r.handleCommand(msg)
			case tick:
				r.handleTick(msg)
			case sweep:
				msg.reply <- r.handleSweep(msg)
			case GetState:
				msg.Reply <- View{
					Continuity: r.host.Phase(),
					Remaining:  r.host.Remaining(),
					RiskTimer:  r.risk.State(),
				}
			case Shutdown:
				return
			}
			if r.closed {
				return
			}
		}
	}
}

func (r *Room) handleCommand(msg command) Reply {
	cmd := msg.cmd
	now := r.deps.Now()

	s, err := r.load()
	if err != nil {
		return Reply{Err: err}
	}

	subject := cmd.PlayerID
	if cmd.Type == engine.CmdDisconnect {
		i := engine.FindPlayerByConn(s, cmd.ConnID)
		if i < 0 {
			return Reply{Err: engine.ErrPlayerNotFound}
		}
		subject = s.Players[i].ID
	}
	existing := engine.FindPlayer(s, subject) >= 0
	wasHost := subject != "" && subject == s.HostID

	if cmd.Type == engine.CmdTransferHost {
		if !existing {
			return Reply{Err: engine.ErrPlayerNotFound}
		}
		if err := r.host.CanClaim(); err != nil {
			return Reply{Err: err}
		}
	}

	switch cmd.Type {
	case engine.CmdJoin:
		cmd.MaxPlayers = r.deps.Settings.MaxPlayers
		cmd.StartingPoints = r.deps.Settings.StartingPoints
	case engine.CmdStartRound:
		cmd.TimerSeconds = r.deps.Settings.RiskTimerSeconds
	}

	events, err := engine.Apply(s, cmd, now)
	if err != nil {
		return Reply{Err: err}
	}

	s, err = r.persist(s, cmd, subject, existing, now)
	if err != nil {
		return Reply{Err: err}
	}

	if msg.connID != "" && (cmd.Type == engine.CmdJoin || cmd.Type == engine.CmdReconnect) {
		r.deps.Presence.Bind(msg.connID, s.ID, subject)
	}

	reply := Reply{Session: s}
	events = append(events, r.afterCommand(s, cmd, subject, wasHost, msg.asHost, &reply)...)

	r.broadcast(s, events)
	if engine.ContainsEvent(events, engine.EvtGameEnded) || len(s.Players) == 0 {
		r.retire()
	}
	return reply
}

// persist writes the result of a successful command through the narrowest
// store operation that covers it and returns the stored session.
func (r *Room) persist(s *engine.Session, cmd engine.Command, subject string, existing bool, now time.Time) (*engine.Session, error) {
	ctx, cancel := context.WithTimeout(r.ctx, storeTimeout)
	defer cancel()

	switch {
	case s.Status == engine.StatusEnded:
		return s, nil

	case cmd.Type == engine.CmdJoin && !existing:
		p := s.Players[engine.FindPlayer(s, subject)]
		stored, err := r.deps.Store.AppendPlayer(ctx, s.ID, p)
		return stored, r.storeErr("append player", err)

	case cmd.Type == engine.CmdJoin, cmd.Type == engine.CmdReconnect, cmd.Type == engine.CmdDisconnect,
		cmd.Type == engine.CmdSetAway, cmd.Type == engine.CmdSetActive:
		p := s.Players[engine.FindPlayer(s, subject)]
		conn := ""
		if cmd.Type == engine.CmdJoin || cmd.Type == engine.CmdReconnect {
			conn = cmd.ConnID
		}
		stored, err := r.deps.Store.UpdatePlayerStatus(ctx, s.ID, store.PlayerRef{PlayerID: p.ID}, p.Status, conn, now)
		return stored, r.storeErr("update player status", err)

	default:
		return s, r.storeErr("save session", r.deps.Store.SaveSession(ctx, s))
	}
}

// afterCommand drives host continuity and the risk timer off a committed
// command.
func (r *Room) afterCommand(s *engine.Session, cmd engine.Command, subject string, wasHost, asHost bool, reply *Reply) []engine.Event {
	quorum := engine.HasQuorum(s.Players)

	switch cmd.Type {
	case engine.CmdJoin, engine.CmdReconnect:
		if subject == s.HostID {
			return r.host.HostReturned()
		}
		if asHost && engine.WasHost(s, subject) {
			reply.RoleChanged = true
			reply.Message = "You have rejoined as a player. Someone else is now the host."
		}
		return r.host.PlayerReturned(r.ctx, quorum)

	case engine.CmdDisconnect:
		if subject == s.HostID {
			r.log.Info("host disconnected", zap.String("player_id", subject), zap.Bool("quorum", quorum))
			return r.host.HostLost(r.ctx, quorum)
		}

	case engine.CmdLeave:
		if wasHost && len(s.Players) > 0 {
			r.log.Info("host left, opening volunteer window", zap.String("player_id", subject))
			r.host.Stop()
			return r.host.OpenVolunteering(r.ctx)
		}

	case engine.CmdTransferHost:
		if err := r.host.Claim(); err != nil {
			// CanClaim passed inside this same turn, so this cannot fail.
			r.log.Error("claim after successful check", zap.Error(err))
		}
		r.log.Info("host transferred", zap.String("player_id", subject))

	case engine.CmdStartRound:
		r.risk.Start(r.ctx, r.deps.Settings.RiskTimerSeconds)

	case engine.CmdRevealRisks:
		r.risk.Stop()
	}
	return nil
}

func (r *Room) handleTick(t tick) {
	switch t.kind {
	case riskTimer:
		remaining, expired, ok := r.risk.Tick(t.gen)
		if !ok {
			return
		}
		events := []engine.Event{{Type: engine.EvtTimerTick, Payload: engine.TimerTick{Remaining: remaining, Type: "risk"}}}
		if expired {
			events = append(events, engine.Event{Type: engine.EvtTimerExpired, Payload: engine.TimerExpired{Action: "reveal-available"}})
		}
		r.broadcast(nil, events)

	case hostTimer:
		if t.gen != r.host.Gen() {
			return
		}
		s, err := r.load()
		if err != nil {
			return
		}
		events, end := r.host.Tick(r.ctx, t.gen, engine.HasQuorum(s.Players))
		r.broadcast(s, events)
		if end {
			r.log.Info("volunteer window expired")
			r.terminate(s, continuity.ReasonNoHost, "Game ended - no one volunteered to be host")
		}
	}
}

func (r *Room) handleSweep(m sweep) Reply {
	s, err := r.load()
	if err != nil {
		return Reply{Err: err}
	}

	if m.idle > 0 && m.now.Sub(s.LastActivity) > m.idle {
		r.log.Info("session idle, ending", zap.Time("last_activity", s.LastActivity))
		r.terminate(s, ReasonIdle, "Game ended after a period of inactivity")
		return Reply{Session: s}
	}

	lastActivity := s.LastActivity
	var events []engine.Event
	hostRemoved := false
	for _, p := range append([]engine.Player(nil), s.Players...) {
		if p.Status != engine.PlayerDisconnected || p.DisconnectedAt == nil || m.now.Sub(*p.DisconnectedAt) <= m.grace {
			continue
		}
		evs, err := engine.Apply(s, engine.Command{Type: engine.CmdLeave, PlayerID: p.ID, Reason: ReasonTimeout}, m.now)
		if err != nil {
			continue
		}
		r.log.Info("removed disconnected player", zap.String("player_id", p.ID))
		events = append(events, evs...)
		if p.ID == s.HostID {
			hostRemoved = true
		}
	}
	if len(events) == 0 {
		return Reply{Session: s}
	}
	// Cleanup is not activity.
	s.LastActivity = lastActivity

	if len(s.Players) == 0 {
		r.retire()
		return Reply{Session: s}
	}
	ctx, cancel := context.WithTimeout(r.ctx, storeTimeout)
	defer cancel()
	if err := r.deps.Store.SaveSession(ctx, s); err != nil {
		return Reply{Err: r.storeErr("save session", err)}
	}

	// The roster shrank: a removed host hands over to volunteers, and a
	// paused absence countdown may have its quorum back.
	switch {
	case hostRemoved && r.host.Phase() != continuity.Volunteering:
		r.log.Info("host removed by sweep, opening volunteer window", zap.String("player_id", s.HostID))
		r.host.Stop()
		events = append(events, r.host.OpenVolunteering(r.ctx)...)
	case !hostRemoved:
		events = append(events, r.host.PlayerReturned(r.ctx, engine.HasQuorum(s.Players))...)
	}
	r.broadcast(s, events)
	return Reply{Session: s}
}

// terminate ends the session for a reason no player chose.
func (r *Room) terminate(s *engine.Session, reason, message string) {
	events, err := engine.Apply(s, engine.Command{Type: engine.CmdTerminate, Reason: reason, Nickname: message}, r.deps.Now())
	if err == nil {
		r.broadcast(s, events)
	}
	r.retire()
}

// retire removes the session from storage and presence and stops the room
// after the current message.
func (r *Room) retire() {
	r.host.Stop()
	r.risk.Stop()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), storeTimeout)
	defer cancel()
	if err := r.deps.Store.DeleteSession(ctx, r.id); err != nil {
		r.log.Error("delete session", zap.Error(err))
	}
	r.deps.Presence.CloseSession(r.id)
	r.closed = true
	r.log.Info("session retired")
}

func (r *Room) load() (*engine.Session, error) {
	ctx, cancel := context.WithTimeout(r.ctx, storeTimeout)
	defer cancel()
	s, err := r.deps.Store.GetSessionByID(ctx, r.id)
	if errors.Is(err, engine.ErrSessionNotFound) {
		// Nothing left to coordinate.
		r.closed = true
		return nil, err
	}
	return s, r.storeErr("load session", err)
}

func (r *Room) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *engine.Error
	if !errors.As(err, &e) {
		r.log.Error("storage failure", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (r *Room) broadcast(s *engine.Session, events []engine.Event) {
	for _, e := range events {
		raw, err := types.EncodeEvent(e, s)
		if err != nil {
			r.log.Error("encode event", zap.String("event", string(e.Type)), zap.Error(err))
			continue
		}
		r.deps.Presence.Broadcast(r.id, raw, e.ExceptPlayer)
	}
}
