package continuity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/internal/timer"
)

// manual returns a manager whose ticks are delivered by the test.
func manual(absence, volunteer int) *Manager {
	clock := timer.New(time.Hour, func(context.Context, uint64) {})
	return New(Config{AbsenceSeconds: absence, VolunteerSeconds: volunteer}, clock)
}

func kinds(events []engine.Event) []engine.EventType {
	out := make([]engine.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestManager_AbsenceThenVolunteerThenEnd(t *testing.T) {
	ctx := context.Background()
	m := manual(2, 2)
	defer m.Stop()

	events := m.HostLost(ctx, true)
	require.Equal(t, []engine.EventType{engine.EvtHostAbsenceCountdown}, kinds(events))
	assert.Equal(t, Absent, m.Phase())

	events, end := m.Tick(ctx, m.Gen(), true)
	assert.False(t, end)
	assert.Equal(t, 1, events[0].Payload.(engine.HostCountdown).SecondsRemaining)

	events, end = m.Tick(ctx, m.Gen(), true)
	assert.False(t, end)
	assert.Equal(t, []engine.EventType{engine.EvtHostAbsenceCountdown, engine.EvtHostVolunteerPhase}, kinds(events))
	assert.Equal(t, Volunteering, m.Phase())
	assert.NoError(t, m.CanClaim())

	m.Tick(ctx, m.Gen(), true)
	events, end = m.Tick(ctx, m.Gen(), false)
	assert.True(t, end, "volunteer window does not pause for quorum")
	assert.Equal(t, engine.EvtHostVolunteerPhase, events[0].Type)
	assert.Equal(t, Normal, m.Phase())
}

func TestManager_StartsPausedWithoutQuorum(t *testing.T) {
	ctx := context.Background()
	m := manual(60, 60)
	defer m.Stop()

	events := m.HostLost(ctx, false)
	assert.Equal(t, []engine.EventType{engine.EvtHostAbsencePaused}, kinds(events))
	assert.Equal(t, AbsentPaused, m.Phase())
	assert.Equal(t, 60, m.Remaining())

	events, _ = m.Tick(ctx, m.Gen(), true)
	assert.Empty(t, events, "paused countdown ignores ticks")

	assert.Empty(t, m.PlayerReturned(ctx, false))
	events = m.PlayerReturned(ctx, true)
	assert.Equal(t, []engine.EventType{engine.EvtHostAbsenceCountdown}, kinds(events))
	assert.Equal(t, Absent, m.Phase())
}

func TestManager_PausesWhenQuorumLostAndResumesWithRemaining(t *testing.T) {
	ctx := context.Background()
	m := manual(10, 60)
	defer m.Stop()

	m.HostLost(ctx, true)
	m.Tick(ctx, m.Gen(), true)
	m.Tick(ctx, m.Gen(), true)
	require.Equal(t, 8, m.Remaining())

	stale := m.Gen()
	events, _ := m.Tick(ctx, m.Gen(), false)
	assert.Equal(t, []engine.EventType{engine.EvtHostAbsencePaused}, kinds(events))
	assert.Equal(t, 8, m.Remaining(), "remaining seconds are preserved")

	m.PlayerReturned(ctx, true)
	events, _ = m.Tick(ctx, stale, true)
	assert.Empty(t, events, "ticks from before the pause are stale")

	events, _ = m.Tick(ctx, m.Gen(), true)
	assert.Equal(t, 7, events[0].Payload.(engine.HostCountdown).SecondsRemaining)
}

func TestManager_HostReturnCancels(t *testing.T) {
	ctx := context.Background()

	for _, volunteering := range []bool{false, true} {
		m := manual(1, 60)
		m.HostLost(ctx, true)
		if volunteering {
			m.Tick(ctx, m.Gen(), true)
			require.Equal(t, Volunteering, m.Phase())
		}
		gen := m.Gen()

		events := m.HostReturned()
		assert.Equal(t, []engine.EventType{engine.EvtHostAbsenceCancelled}, kinds(events))
		assert.Equal(t, Normal, m.Phase())
		assert.Equal(t, timer.Idle, m.clock.State())

		events, end := m.Tick(ctx, gen, true)
		assert.Empty(t, events)
		assert.False(t, end)
		assert.ErrorIs(t, m.CanClaim(), engine.ErrNotInVolunteerPhase)
	}

	assert.Nil(t, manual(1, 1).HostReturned(), "nothing to cancel")
}

func TestManager_ClaimIsSingleUse(t *testing.T) {
	ctx := context.Background()
	m := manual(60, 60)

	assert.ErrorIs(t, m.Claim(), engine.ErrNotInVolunteerPhase)

	m.OpenVolunteering(ctx)
	require.NoError(t, m.Claim())
	for i := 0; i < 5; i++ {
		err := m.Claim()
		assert.ErrorIs(t, err, engine.ErrAlreadyClaimed)
		assert.Equal(t, engine.KindRaceLost, engine.KindOf(err))
	}
	assert.Equal(t, timer.Idle, m.clock.State())

	// a new absence sequence starts clean
	m.HostLost(ctx, true)
	defer m.Stop()
	assert.ErrorIs(t, m.CanClaim(), engine.ErrNotInVolunteerPhase)
}

func TestManager_HostLostIsIgnoredMidSequence(t *testing.T) {
	ctx := context.Background()
	m := manual(60, 60)
	defer m.Stop()

	m.HostLost(ctx, true)
	m.Tick(ctx, m.Gen(), true)
	assert.Nil(t, m.HostLost(ctx, true))
	assert.Equal(t, 59, m.Remaining())
}
