package room

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/showdown-backend/internal/continuity"
	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/internal/presence"
	"github.com/DoyleJ11/showdown-backend/internal/store"
	"github.com/DoyleJ11/showdown-backend/internal/timer"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.Memory
	tr    *presence.Tracker
	room  *Room
	conns map[string]*presence.Conn
}

// slow never ticks on its own within a test.
var slow = Settings{AbsenceSeconds: 60, VolunteerSeconds: 60, RiskTimerSeconds: 30, TickInterval: time.Hour}

// setup stores session s1 hosted by "h" with one extra player per nickname.
// Player ids are the lowercased nicknames and connection ids are "c-"+id.
func setup(t *testing.T, settings Settings, nicknames ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: store.NewMemory(),
		tr:    presence.New(zaptest.NewLogger(t), 256),
		conns: map[string]*presence.Conn{},
	}
	require.NoError(t, f.store.CreateSession(ctx, engine.NewSession("s1", "ABCD1234", "h", "Host", "c-h", t0)))
	f.bind("h")
	for _, n := range nicknames {
		id := strings.ToLower(n)
		_, err := f.store.AppendPlayer(ctx, "s1", engine.Player{
			ID:         id,
			Nickname:   n,
			Status:     engine.PlayerConnected,
			ConnID:     "c-" + id,
			JoinedAt:   t0,
			Points:     engine.StartingPoints,
			GameStatus: engine.GameActive,
		})
		require.NoError(t, err)
		f.bind(id)
	}

	f.room = New(context.Background(), "s1", Deps{
		Store:    f.store,
		Presence: f.tr,
		Log:      zaptest.NewLogger(t),
		Now:      func() time.Time { return t0 },
		Settings: settings,
	})
	t.Cleanup(f.room.Close)
	return f
}

func (f *fixture) bind(id string) {
	f.conns[id] = f.tr.Register("c-"+id, t0)
	f.tr.Bind("c-"+id, "s1", id)
}

func (f *fixture) do(t *testing.T, cmd engine.Command) *engine.Session {
	t.Helper()
	res := f.room.Do(context.Background(), cmd, "")
	require.NoError(t, res.Err)
	return res.Session
}

func (f *fixture) state(t *testing.T) View {
	t.Helper()
	v, err := f.room.State(context.Background())
	require.NoError(t, err)
	return v
}

type frame struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	GameSession *engine.Session `json:"gameSession"`
}

// received drains everything queued for a connection so far.
func received(t *testing.T, c *presence.Conn) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case raw, ok := <-c.Send:
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func typesOf(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func waitDone(t *testing.T, r *Room, within time.Duration) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(within):
		t.Fatalf("room still running after %v", within)
	}
}

func TestRoom_UnclaimedHostAbsenceEndsSession(t *testing.T) {
	fast := Settings{AbsenceSeconds: 2, VolunteerSeconds: 2, TickInterval: 5 * time.Millisecond}
	f := setup(t, fast, "Alice", "Bob")

	res := f.room.Do(context.Background(), engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"}, "")
	require.NoError(t, res.Err)

	waitDone(t, f.room, 2*time.Second)

	_, err := f.store.GetSessionByID(context.Background(), "s1")
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)
	assert.Zero(t, f.tr.Count("s1"))

	frames := received(t, f.conns["alice"])
	kinds := typesOf(frames)
	assert.Contains(t, kinds, string(engine.EvtPlayerDisconnected))
	assert.Contains(t, kinds, string(engine.EvtHostAbsenceCountdown))
	assert.Contains(t, kinds, string(engine.EvtHostVolunteerPhase))

	last := frames[len(frames)-1]
	require.Equal(t, string(engine.EvtGameEnded), last.Type)
	var ended engine.GameEnded
	require.NoError(t, json.Unmarshal(last.Data, &ended))
	assert.Equal(t, continuity.ReasonNoHost, ended.Reason)
	assert.Equal(t, "Game ended - no one volunteered to be host", ended.Message)

	// Requests after the end find nothing.
	res = f.room.Do(context.Background(), engine.Command{Type: engine.CmdSetAway, PlayerID: "alice"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrSessionNotFound)
}

func TestRoom_ConcurrentVolunteersExactlyOneWins(t *testing.T) {
	f := setup(t, slow, "A", "B", "C", "D", "E")
	f.do(t, engine.Command{Type: engine.CmdLeave, PlayerID: "h", Reason: "left"})
	require.Equal(t, continuity.Volunteering, f.state(t).Continuity)

	ids := []string{"a", "b", "c", "d", "e"}
	results := make([]Reply, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.room.Do(context.Background(), engine.Command{Type: engine.CmdTransferHost, PlayerID: id}, "")
		}()
	}
	wg.Wait()

	winner := ""
	for i, res := range results {
		if res.Err == nil {
			require.Empty(t, winner, "second winner %s", ids[i])
			winner = ids[i]
			continue
		}
		assert.ErrorIs(t, res.Err, engine.ErrAlreadyClaimed)
	}
	require.NotEmpty(t, winner)

	s, err := f.store.GetSessionByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, winner, s.HostID)
	for _, p := range s.Players {
		assert.Equal(t, p.ID == winner, p.IsHost, p.ID)
	}
	assert.Equal(t, continuity.Normal, f.state(t).Continuity)
}

func TestRoom_VolunteerOutsideWindow(t *testing.T) {
	f := setup(t, slow, "Alice")
	res := f.room.Do(context.Background(), engine.Command{Type: engine.CmdTransferHost, PlayerID: "alice"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrNotInVolunteerPhase)

	res = f.room.Do(context.Background(), engine.Command{Type: engine.CmdTransferHost, PlayerID: "ghost"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrPlayerNotFound)
}

func TestRoom_DisconnectedVolunteerIsRejected(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob")
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-bob"})
	f.do(t, engine.Command{Type: engine.CmdLeave, PlayerID: "h"})

	res := f.room.Do(context.Background(), engine.Command{Type: engine.CmdTransferHost, PlayerID: "bob"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrNotConnected)

	// A rejected claim leaves the window open.
	f.do(t, engine.Command{Type: engine.CmdTransferHost, PlayerID: "alice"})
}

func TestRoom_HostReconnectCancelsAbsence(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob")
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"})
	v := f.state(t)
	assert.Equal(t, continuity.Absent, v.Continuity)
	assert.Equal(t, 60, v.Remaining)

	f.tr.Register("c-h2", t0)
	res := f.room.Do(context.Background(), engine.Command{Type: engine.CmdReconnect, PlayerID: "h", ConnID: "c-h2"}, "c-h2")
	require.NoError(t, res.Err)
	assert.False(t, res.RoleChanged)
	assert.Equal(t, continuity.Normal, f.state(t).Continuity)

	sid, pid, ok := f.tr.Lookup("c-h2")
	require.True(t, ok)
	assert.Equal(t, "s1", sid)
	assert.Equal(t, "h", pid)

	i := engine.FindPlayer(res.Session, "h")
	assert.Equal(t, engine.PlayerConnected, res.Session.Players[i].Status)
	assert.Equal(t, "c-h2", res.Session.Players[i].ConnID)

	assert.Contains(t, typesOf(received(t, f.conns["alice"])), string(engine.EvtHostAbsenceCancelled))

	// The old connection no longer speaks for the host.
	res = f.room.Do(context.Background(), engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrPlayerNotFound)
}

func TestRoom_AbsencePausesWithoutQuorum(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob")
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-alice"})
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-bob"})
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"})
	assert.Equal(t, continuity.AbsentPaused, f.state(t).Continuity)

	// One of three present is not enough.
	f.do(t, engine.Command{Type: engine.CmdReconnect, PlayerID: "alice", ConnID: "c-alice"})
	assert.Equal(t, continuity.AbsentPaused, f.state(t).Continuity)

	f.do(t, engine.Command{Type: engine.CmdReconnect, PlayerID: "bob", ConnID: "c-bob"})
	v := f.state(t)
	assert.Equal(t, continuity.Absent, v.Continuity)
	assert.Equal(t, 60, v.Remaining)
}

func TestRoom_AwayPlayerKeepsQuorum(t *testing.T) {
	f := setup(t, slow, "Alice")
	f.do(t, engine.Command{Type: engine.CmdSetAway, PlayerID: "alice"})
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"})
	assert.Equal(t, continuity.Absent, f.state(t).Continuity)
}

func TestRoom_ReconnectHostAfterTransfer(t *testing.T) {
	fast := Settings{AbsenceSeconds: 1, VolunteerSeconds: 1000, TickInterval: 5 * time.Millisecond}
	f := setup(t, fast, "Alice", "Bob")
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"})

	require.Eventually(t, func() bool {
		v, err := f.room.State(context.Background())
		return err == nil && v.Continuity == continuity.Volunteering
	}, 2*time.Second, 5*time.Millisecond)
	f.do(t, engine.Command{Type: engine.CmdTransferHost, PlayerID: "alice"})

	f.tr.Register("c-h2", t0)
	res := f.room.ReconnectHost(context.Background(), "h", "c-h2")
	require.NoError(t, res.Err)
	assert.True(t, res.RoleChanged)
	assert.Equal(t, "You have rejoined as a player. Someone else is now the host.", res.Message)
	assert.Equal(t, "alice", res.Session.HostID)
	i := engine.FindPlayer(res.Session, "h")
	assert.False(t, res.Session.Players[i].IsHost)
	assert.Equal(t, engine.PlayerConnected, res.Session.Players[i].Status)

	// Only the displaced host is told about the role change.
	res = f.room.ReconnectHost(context.Background(), "bob", "c-bob")
	require.NoError(t, res.Err)
	assert.False(t, res.RoleChanged)
	assert.Empty(t, res.Message)
}

func TestRoom_RiskTimerExpires(t *testing.T) {
	fast := slow
	fast.RiskTimerSeconds = 2
	fast.TickInterval = 5 * time.Millisecond
	f := setup(t, fast, "Alice")

	s := f.do(t, engine.Command{Type: engine.CmdStartRound, PlayerID: "h"})
	assert.Equal(t, engine.StatusRound, s.Status)

	require.Eventually(t, func() bool {
		v, err := f.room.State(context.Background())
		return err == nil && v.RiskTimer == timer.Idle
	}, 2*time.Second, 5*time.Millisecond)

	kinds := typesOf(received(t, f.conns["alice"]))
	assert.Equal(t, []string{
		string(engine.EvtRoundStarted),
		string(engine.EvtTimerTick),
		string(engine.EvtTimerTick),
		string(engine.EvtTimerExpired),
	}, kinds)
}

func TestRoom_RevealStopsRiskTimer(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob")
	f.do(t, engine.Command{Type: engine.CmdStartRound, PlayerID: "h"})
	assert.Equal(t, timer.Running, f.state(t).RiskTimer)

	f.do(t, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: "h", Amount: 10})
	f.do(t, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: "alice", Amount: 10})
	f.do(t, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: "bob", Amount: 20})
	s := f.do(t, engine.Command{Type: engine.CmdRevealRisks, PlayerID: "h"})

	assert.Equal(t, timer.Idle, f.state(t).RiskTimer)
	assert.Equal(t, engine.StatusActive, s.Status)
	assert.Equal(t, 10, s.Pot)

	stored, err := f.store.GetSessionByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, s.Pot, stored.Pot)
	assert.Len(t, stored.GameHistory, 1)
}

func TestRoom_SubmitRiskIsHiddenFromSubmitter(t *testing.T) {
	f := setup(t, slow, "Alice")
	f.do(t, engine.Command{Type: engine.CmdStartRound, PlayerID: "h"})
	received(t, f.conns["alice"])
	received(t, f.conns["h"])

	f.do(t, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: "alice", Amount: 5})
	assert.Empty(t, received(t, f.conns["alice"]))
	assert.Equal(t, []string{string(engine.EvtRiskSubmitted)}, typesOf(received(t, f.conns["h"])))
}

func TestRoom_JoinPersistsAndBinds(t *testing.T) {
	f := setup(t, slow, "Alice")
	f.tr.Register("c-new", t0)

	res := f.room.Do(context.Background(), engine.Command{Type: engine.CmdJoin, PlayerID: "zed", Nickname: "Zed", ConnID: "c-new"}, "c-new")
	require.NoError(t, res.Err)
	require.Len(t, res.Session.Players, 3)

	_, pid, ok := f.tr.Lookup("c-new")
	require.True(t, ok)
	assert.Equal(t, "zed", pid)

	res = f.room.Do(context.Background(), engine.Command{Type: engine.CmdJoin, PlayerID: "other", Nickname: "ALICE"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrNicknameTaken)
}

func TestRoom_EndDeletesSession(t *testing.T) {
	f := setup(t, slow, "Alice")

	res := f.room.Do(context.Background(), engine.Command{Type: engine.CmdEnd, PlayerID: "alice"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrNotHost)

	res = f.room.Do(context.Background(), engine.Command{Type: engine.CmdEnd, PlayerID: "h", Reason: "host-ended"}, "")
	require.NoError(t, res.Err)
	assert.Equal(t, engine.StatusEnded, res.Session.Status)

	waitDone(t, f.room, time.Second)
	_, err := f.store.GetSessionByID(context.Background(), "s1")
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)
	assert.Contains(t, typesOf(received(t, f.conns["alice"])), string(engine.EvtGameEnded))
}

func TestRoom_SweepRemovesStaleDisconnects(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob")
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-bob"})

	res := f.room.Sweep(context.Background(), t0.Add(time.Minute), 2*time.Minute, time.Hour)
	require.NoError(t, res.Err)
	assert.Len(t, res.Session.Players, 3)

	res = f.room.Sweep(context.Background(), t0.Add(3*time.Minute), 2*time.Minute, time.Hour)
	require.NoError(t, res.Err)
	assert.Equal(t, -1, engine.FindPlayer(res.Session, "bob"))
	assert.Equal(t, t0, res.Session.LastActivity)

	stored, err := f.store.GetSessionByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, stored.Players, 2)
}

func TestRoom_SweepEndsIdleSession(t *testing.T) {
	f := setup(t, slow, "Alice")

	res := f.room.Sweep(context.Background(), t0.Add(2*time.Hour), 2*time.Minute, time.Hour)
	require.NoError(t, res.Err)
	waitDone(t, f.room, time.Second)

	_, err := f.store.GetSessionByID(context.Background(), "s1")
	assert.ErrorIs(t, err, engine.ErrSessionNotFound)

	frames := received(t, f.conns["alice"])
	require.NotEmpty(t, frames)
	var ended engine.GameEnded
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &ended))
	assert.Equal(t, ReasonIdle, ended.Reason)
}

func TestRoom_MissingSessionStopsRoom(t *testing.T) {
	f := setup(t, slow)
	require.NoError(t, f.store.DeleteSession(context.Background(), "s1"))

	res := f.room.Do(context.Background(), engine.Command{Type: engine.CmdSetAway, PlayerID: "h"}, "")
	assert.ErrorIs(t, res.Err, engine.ErrSessionNotFound)
	waitDone(t, f.room, time.Second)
}

func TestRoom_SealedRisksAreNotBroadcast(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob")
	f.do(t, engine.Command{Type: engine.CmdStartRound, PlayerID: "h"})
	f.do(t, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: "alice", Amount: 15})
	f.do(t, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: "bob", Amount: 20})

	for _, id := range []string{"h", "alice", "bob"} {
		for _, fr := range received(t, f.conns[id]) {
			require.NotNil(t, fr.GameSession, fr.Type)
			rp := fr.GameSession.RiskPhase
			require.NotNil(t, rp, fr.Type)
			assert.Empty(t, rp.Submissions, "%s sees amounts in %s", id, fr.Type)
			for _, p := range fr.GameSession.Players {
				assert.Zero(t, p.CurrentRisk, "%s sees %s's risk in %s", id, p.ID, fr.Type)
			}
		}
	}

	f.do(t, engine.Command{Type: engine.CmdSubmitRisk, PlayerID: "h", Amount: 10})
	f.do(t, engine.Command{Type: engine.CmdRevealRisks, PlayerID: "h"})
	frames := received(t, f.conns["alice"])
	require.NotEmpty(t, frames)
	var revealed *frame
	for i := range frames {
		if frames[i].Type == string(engine.EvtRisksRevealed) {
			revealed = &frames[i]
		}
	}
	require.NotNil(t, revealed)
	var payload engine.RisksRevealed
	require.NoError(t, json.Unmarshal(revealed.Data, &payload))
	assert.Equal(t, map[string]int{"h": 10, "alice": 15, "bob": 20}, payload.Risks)
}

func TestRoom_SweepHandsOverFromRemovedHost(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob", "Carol")
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-bob"})
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-carol"})
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"})
	require.Equal(t, continuity.AbsentPaused, f.state(t).Continuity)
	received(t, f.conns["alice"])

	res := f.room.Sweep(context.Background(), t0.Add(6*time.Minute), 5*time.Minute, time.Hour)
	require.NoError(t, res.Err)
	require.Len(t, res.Session.Players, 1)
	assert.Equal(t, continuity.Volunteering, f.state(t).Continuity)
	assert.Contains(t, typesOf(received(t, f.conns["alice"])), string(engine.EvtHostVolunteerPhase))

	s := f.do(t, engine.Command{Type: engine.CmdTransferHost, PlayerID: "alice"})
	assert.Equal(t, "alice", s.HostID)
	assert.True(t, s.Players[0].IsHost)
}

func TestRoom_SweepRestoresQuorum(t *testing.T) {
	f := setup(t, slow, "Alice", "Bob", "Carol")
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-bob"})
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-carol"})
	f.do(t, engine.Command{Type: engine.CmdDisconnect, ConnID: "c-h"})
	require.Equal(t, continuity.AbsentPaused, f.state(t).Continuity)

	// Bob and Carol dropped well before the host did.
	ctx := context.Background()
	s, err := f.store.GetSessionByID(ctx, "s1")
	require.NoError(t, err)
	long := t0.Add(-10 * time.Minute)
	for _, id := range []string{"bob", "carol"} {
		s.Players[engine.FindPlayer(s, id)].DisconnectedAt = &long
	}
	require.NoError(t, f.store.SaveSession(ctx, s))

	res := f.room.Sweep(ctx, t0.Add(time.Minute), 5*time.Minute, time.Hour)
	require.NoError(t, res.Err)
	require.Len(t, res.Session.Players, 2)
	assert.Equal(t, "h", res.Session.HostID)

	v := f.state(t)
	assert.Equal(t, continuity.Absent, v.Continuity)
	assert.Equal(t, 60, v.Remaining)
}
