// Package continuity keeps a session alive through its host's absence: an
// absence countdown that pauses without quorum, then a volunteer window in
// which exactly one player can claim the host role, and finally termination
// when nobody does.
//
// A Manager is owned by the session's actor goroutine; calls are never
// concurrent, which is what makes Claim an atomic check-and-clear.
package continuity

import (
	"context"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/internal/timer"
)

type Phase int

const (
	Normal Phase = iota
	Absent
	AbsentPaused
	Volunteering
)

func (p Phase) String() string {
	switch p {
	case Absent:
		return "absent"
	case AbsentPaused:
		return "absent-paused"
	case Volunteering:
		return "volunteering"
	default:
		return "normal"
	}
}

const (
	PhaseWaiting    = "waiting-for-reconnection"
	PhaseVolunteers = "requesting-volunteers"

	ReasonNoHost = "no-host-available"
)

type Config struct {
	AbsenceSeconds   int
	VolunteerSeconds int
}

type Manager struct {
	cfg     Config
	clock   *timer.Countdown
	phase   Phase
	claimed bool
}

func New(cfg Config, clock *timer.Countdown) *Manager {
	if cfg.AbsenceSeconds <= 0 {
		cfg.AbsenceSeconds = 60
	}
	if cfg.VolunteerSeconds <= 0 {
		cfg.VolunteerSeconds = 60
	}
	return &Manager{cfg: cfg, clock: clock}
}

func (m *Manager) Phase() Phase { return m.phase }

func (m *Manager) Remaining() int { return m.clock.Remaining() }

// Gen is the generation of the underlying countdown, for routing ticks.
func (m *Manager) Gen() uint64 { return m.clock.Gen() }

// HostLost starts an absence sequence. Without quorum the countdown is armed
// but paused. A sequence already in progress is left alone.
func (m *Manager) HostLost(ctx context.Context, quorum bool) []engine.Event {
	if m.phase != Normal {
		return nil
	}
	m.claimed = false
	secs := m.cfg.AbsenceSeconds

	if !quorum {
		m.clock.StartPaused(secs)
		m.phase = AbsentPaused
		return []engine.Event{{Type: engine.EvtHostAbsencePaused, Payload: engine.HostNotice{
			Message:          "Waiting for more players to reconnect before starting host transfer timer",
			SecondsRemaining: secs,
		}}}
	}
	m.clock.Start(ctx, secs)
	m.phase = Absent
	return []engine.Event{countdown(secs)}
}

// OpenVolunteering skips straight to the volunteer window.
func (m *Manager) OpenVolunteering(ctx context.Context) []engine.Event {
	if m.phase == Normal {
		m.claimed = false
	}
	secs := m.cfg.VolunteerSeconds
	m.clock.Start(ctx, secs)
	m.phase = Volunteering
	return []engine.Event{volunteerTick(secs)}
}

// Tick advances the running countdown. end reports that the volunteer window
// ran out unclaimed and the session must terminate with ReasonNoHost.
func (m *Manager) Tick(ctx context.Context, gen uint64, quorum bool) (events []engine.Event, end bool) {
	if gen != m.clock.Gen() || m.clock.State() != timer.Running {
		return nil, false
	}

	switch m.phase {
	case Absent:
		if !quorum {
			m.clock.Pause()
			m.phase = AbsentPaused
			return []engine.Event{{Type: engine.EvtHostAbsencePaused, Payload: engine.HostNotice{
				Message:          "Timer paused - waiting for more players to reconnect",
				SecondsRemaining: m.clock.Remaining(),
			}}}, false
		}
		remaining, expired, ok := m.clock.Tick(gen)
		if !ok {
			return nil, false
		}
		events = append(events, countdown(remaining))
		if expired {
			events = append(events, m.OpenVolunteering(ctx)...)
		}
		return events, false

	case Volunteering:
		remaining, expired, ok := m.clock.Tick(gen)
		if !ok {
			return nil, false
		}
		events = append(events, volunteerTick(remaining))
		if expired {
			m.phase = Normal
			return events, true
		}
		return events, false
	}
	return nil, false
}

// PlayerReturned resumes a paused absence countdown once quorum is back.
func (m *Manager) PlayerReturned(ctx context.Context, quorum bool) []engine.Event {
	if m.phase != AbsentPaused || !quorum {
		return nil
	}
	m.clock.Resume(ctx)
	m.phase = Absent
	return []engine.Event{countdown(m.clock.Remaining())}
}

// HostReturned cancels any sequence in progress.
func (m *Manager) HostReturned() []engine.Event {
	if m.phase == Normal {
		return nil
	}
	m.Stop()
	return []engine.Event{{Type: engine.EvtHostAbsenceCancelled, Payload: engine.HostNotice{
		Message: "Host has reconnected",
	}}}
}

// CanClaim reports why a volunteer may not claim right now.
func (m *Manager) CanClaim() error {
	if m.phase == Volunteering {
		return nil
	}
	if m.claimed {
		return engine.ErrAlreadyClaimed
	}
	return engine.ErrNotInVolunteerPhase
}

// Claim closes the volunteer window. Every later CanClaim in this sequence
// fails with ErrAlreadyClaimed.
func (m *Manager) Claim() error {
	if err := m.CanClaim(); err != nil {
		return err
	}
	m.clock.Stop()
	m.phase = Normal
	m.claimed = true
	return nil
}

// Stop discards all countdown state.
func (m *Manager) Stop() {
	m.clock.Stop()
	m.phase = Normal
	m.claimed = false
}

func countdown(secs int) engine.Event {
	return engine.Event{Type: engine.EvtHostAbsenceCountdown, Payload: engine.HostCountdown{
		SecondsRemaining: secs,
		Phase:            PhaseWaiting,
	}}
}

func volunteerTick(secs int) engine.Event {
	return engine.Event{Type: engine.EvtHostVolunteerPhase, Payload: engine.HostCountdown{
		SecondsRemaining: secs,
		Phase:            PhaseVolunteers,
	}}
}
