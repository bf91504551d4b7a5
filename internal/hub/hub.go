// Package hub is the registry of live rooms, keyed by session id. It is itself
// an actor so lookups and creation never race.
package hub

import (
	"context"

	"github.com/DoyleJ11/showdown-backend/internal/room"
)

type HubMsg interface{ isHubMsg() }

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

// EnsureRoom returns the room for ID, starting one if none is running.
type EnsureRoom struct {
	ID    string
	Reply chan *room.Room
}

// RemoveRoom forgets Room if it is still the one registered under ID.
type RemoveRoom struct {
	ID   string
	Room *room.Room
}

type CountRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (CountRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	deps   room.Deps
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub starts the registry. Every room it creates shares deps.
func NewHub(parent context.Context, deps room.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		ctx:    ctx,
		cancel: cancel,
	}
	deps.OnClose = h.forget
	h.deps = deps
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case EnsureRoom:
				if r := h.rooms[msg.ID]; r != nil {
					msg.Reply <- r
					break
				}
				r := room.New(h.ctx, msg.ID, h.deps)
				h.rooms[msg.ID] = r
				msg.Reply <- r

			case RemoveRoom:
				if h.rooms[msg.ID] == msg.Room {
					delete(h.rooms, msg.ID)
				}

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.closeAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) closeAll() {
	for _, r := range h.rooms {
		r.Close()
	}
	clear(h.rooms)
}

// forget runs on a room's goroutine as it stops.
func (h *Hub) forget(r *room.Room) {
	select {
	case h.inbox <- RemoveRoom{ID: r.ID(), Room: r}:
	case <-h.ctx.Done():
	}
}

// Ensure returns the running room for a session id, starting it if needed.
func (h *Hub) Ensure(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.ask(ctx, EnsureRoom{ID: id, Reply: reply}, reply)
}

// Get returns the running room for id or nil.
func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.ask(ctx, GetRoom{ID: id, Reply: reply}, reply)
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.inbox <- CountRooms{Reply: reply}:
	case <-h.ctx.Done():
		return 0, context.Canceled
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.ctx.Done():
		return 0, context.Canceled
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown stops every room. Stored sessions are left as they are.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *room.Room) (*room.Room, error) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-h.ctx.Done():
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
