package room

import (
	"context"
	"time"

	"github.com/DoyleJ11/showdown-backend/internal/continuity"
	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/internal/timer"
)

// Msg is anything the room loop accepts.
type Msg interface{ isRoomMsg() }

type command struct {
	cmd    engine.Command
	connID string
	asHost bool
	reply  chan Reply
}

type tick struct {
	kind timerKind
	gen  uint64
}

type sweep struct {
	now   time.Time
	grace time.Duration
	idle  time.Duration
	reply chan Reply
}

// GetState reports timer state, mostly for tests.
type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (command) isRoomMsg()  {}
func (tick) isRoomMsg()     {}
func (sweep) isRoomMsg()    {}
func (GetState) isRoomMsg() {}
func (Shutdown) isRoomMsg() {}

// Reply answers one request. Session is the committed state on success.
type Reply struct {
	Session     *engine.Session
	RoleChanged bool
	Message     string
	Err         error
}

type View struct {
	Continuity continuity.Phase
	Remaining  int
	RiskTimer  timer.State
}

// Do applies cmd and waits for the outcome. connID, when set, is bound to the
// subject player after a successful join or reconnect.
func (r *Room) Do(ctx context.Context, cmd engine.Command, connID string) Reply {
	return r.call(ctx, command{cmd: cmd, connID: connID})
}

// ReconnectHost reconnects playerID through the host path. If someone else
// holds the host role by now, the player rejoins as a regular player and the
// reply says so.
func (r *Room) ReconnectHost(ctx context.Context, playerID, connID string) Reply {
	cmd := engine.Command{Type: engine.CmdReconnect, PlayerID: playerID, ConnID: connID}
	return r.call(ctx, command{cmd: cmd, connID: connID, asHost: true})
}

// Sweep removes players disconnected for longer than grace and ends the
// session if it has been idle for longer than idle. Zero disables either.
func (r *Room) Sweep(ctx context.Context, now time.Time, grace, idle time.Duration) Reply {
	reply := make(chan Reply, 1)
	return r.await(ctx, sweep{now: now, grace: grace, idle: idle, reply: reply}, reply)
}

func (r *Room) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case r.inbox <- GetState{Reply: reply}:
	case <-r.done:
		return View{}, engine.ErrSessionNotFound
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, engine.ErrSessionNotFound
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (r *Room) call(ctx context.Context, c command) Reply {
	c.reply = make(chan Reply, 1)
	return r.await(ctx, c, c.reply)
}

func (r *Room) await(ctx context.Context, m Msg, reply chan Reply) Reply {
	select {
	case r.inbox <- m:
	case <-r.done:
		return Reply{Err: engine.ErrSessionNotFound}
	case <-ctx.Done():
		return Reply{Err: ctx.Err()}
	}
	select {
	case res := <-reply:
		return res
	case <-r.done:
		// The loop may have answered just before stopping.
		select {
		case res := <-reply:
			return res
		default:
			return Reply{Err: engine.ErrSessionNotFound}
		}
	case <-ctx.Done():
		return Reply{Err: ctx.Err()}
	}
}
