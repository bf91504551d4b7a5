package engine

import "time"

type EventType string

const (
	EvtPlayerJoined         EventType = "player-joined"
	EvtPlayerDisconnected   EventType = "player-disconnected"
	EvtPlayerReconnected    EventType = "player-reconnected"
	EvtPlayerLeft           EventType = "player-left"
	EvtPlayerStatusChanged  EventType = "player-status-changed"
	EvtGameEnded            EventType = "game-ended"
	EvtHostAbsenceCountdown EventType = "host-absence-countdown"
	EvtHostAbsencePaused    EventType = "host-absence-paused"
	EvtHostAbsenceCancelled EventType = "host-absence-cancelled"
	EvtHostVolunteerPhase   EventType = "host-volunteer-phase"
	EvtHostVolunteerClaimed EventType = "host-volunteer-claimed"
	EvtHostTransferred      EventType = "host-transferred"
	EvtRoundStarted         EventType = "round-started"
	EvtCommunityCardDealt   EventType = "community-card-dealt"
	EvtRiskSubmitted        EventType = "risk-submitted"
	EvtAllRisksIn           EventType = "all-risks-in"
	EvtRisksRevealed        EventType = "risks-revealed"
	EvtPlayerEliminated     EventType = "player-eliminated"
	EvtPlayerReentered      EventType = "player-reentered"
	EvtWinnerDeclared       EventType = "winner-declared"
	EvtTimerTick            EventType = "timer-tick"
	EvtTimerExpired         EventType = "timer-expired"
)

// Event is a broadcast produced by a transition. ExceptPlayer, when set,
// names the player whose connections should not receive it.
type Event struct {
	Type         EventType
	Payload      any
	ExceptPlayer string
}

type PlayerJoined struct {
	Player Player `json:"player"`
}

type PlayerReconnected struct {
	PlayerID       string    `json:"playerId"`
	PlayerNickname string    `json:"playerNickname"`
	ReconnectTime  time.Time `json:"reconnectTime"`
}

type PlayerDisconnectedPayload struct {
	PlayerID       string    `json:"playerId"`
	PlayerNickname string    `json:"playerNickname"`
	DisconnectTime time.Time `json:"disconnectTime"`
	Reason         string    `json:"reason,omitempty"`
}

type PlayerLeftPayload struct {
	PlayerID       string    `json:"playerId"`
	PlayerNickname string    `json:"playerNickname"`
	Reason         string    `json:"reason,omitempty"`
	LeftTime       time.Time `json:"leftTime"`
}

type PlayerStatusChanged struct {
	PlayerID       string       `json:"playerId"`
	PlayerNickname string       `json:"playerNickname"`
	Status         PlayerStatus `json:"status"`
}

type GameEnded struct {
	Reason  string    `json:"reason"`
	EndedBy string    `json:"endedBy,omitempty"`
	EndTime time.Time `json:"endTime"`
	Message string    `json:"message,omitempty"`
}

type HostCountdown struct {
	SecondsRemaining int    `json:"secondsRemaining"`
	Phase            string `json:"phase"`
}

type HostNotice struct {
	Message          string `json:"message"`
	SecondsRemaining int    `json:"secondsRemaining,omitempty"`
}

type HostVolunteerClaimed struct {
	NewHostID       string `json:"newHostId"`
	NewHostNickname string `json:"newHostNickname"`
	Message         string `json:"message"`
}

type HostTransferred struct {
	NewHostID       string `json:"newHostId"`
	NewHostNickname string `json:"newHostNickname"`
	PreviousHostID  string `json:"previousHostId"`
}

type RoundStarted struct {
	Round        int `json:"round"`
	TimerSeconds int `json:"timerSeconds"`
}

type CommunityCardDealt struct {
	CardNumber int `json:"cardNumber"`
	TotalCards int `json:"totalCards"`
}

type RiskSubmitted struct {
	PlayerID       string `json:"playerId"`
	PlayerNickname string `json:"playerNickname"`
}

type AllRisksInPayload struct {
	CanReveal bool `json:"canReveal"`
}

type RisksRevealed struct {
	Outcome    Outcome        `json:"outcome"`
	Risks      map[string]int `json:"risks"`
	Eliminated []string       `json:"eliminated"`
	Finalists  []string       `json:"finalists,omitempty"`
	NewPot     int            `json:"newPot"`
	Round      GameRound      `json:"round"`
}

type PlayerEliminated struct {
	PlayerID         string     `json:"playerId"`
	PlayerNickname   string     `json:"playerNickname"`
	EliminationRound int        `json:"eliminationRound"`
	NewStatus        GameStatus `json:"newStatus"`
}

type PlayerReentered struct {
	PlayerID       string `json:"playerId"`
	PlayerNickname string `json:"playerNickname"`
	NewPoints      int    `json:"newPoints"`
}

type WinnerDeclared struct {
	WinnerID       string `json:"winnerId"`
	WinnerNickname string `json:"winnerNickname"`
	Winnings       int    `json:"winnings"`
}

type TimerTick struct {
	Remaining int    `json:"remaining"`
	Type      string `json:"type"`
}

type TimerExpired struct {
	Action string `json:"action"`
}
