// Package types is the realtime wire protocol.
//
// Client -> Server: ClientMessage{type, requestId, data}. Every request is
// answered with exactly one ServerMessage of type "ack" carrying the same
// requestId. Broadcasts arrive as ServerMessage{type: <event>, data,
// gameSession}.
package types

import (
	"encoding/json"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
)

// Request event names.
const (
	CreateGame        = "create-game"
	JoinGame          = "join-game"
	ReconnectHost     = "reconnect-host"
	ReconnectPlayer   = "reconnect-player"
	LeaveGame         = "leave-game"
	EndGame           = "end-game"
	VolunteerHost     = "volunteer-host"
	StartRound        = "start-round"
	DealCommunityCard = "deal-community-card"
	SubmitRisk        = "submit-risk"
	RevealRisks       = "reveal-risks"
	DeclareWinner     = "declare-winner"
	ReenterPlayer     = "reenter-player"
	PlayerAway        = "player-away"
	PlayerActive      = "player-active"
	Heartbeat         = "heartbeat"
)

const AckType = "ack"

type ClientMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type CreateGameRequest struct {
	GameID       string `json:"gameId"`
	GameCode     string `json:"gameCode"`
	HostID       string `json:"hostId"`
	HostNickname string `json:"hostNickname"`
}

type JoinGameRequest struct {
	GameCode       string `json:"gameCode"`
	PlayerID       string `json:"playerId"`
	PlayerNickname string `json:"playerNickname"`
}

type ReconnectHostRequest struct {
	GameID string `json:"gameId"`
	HostID string `json:"hostId"`
}

// PlayerRequest covers every request addressed to one player of one game:
// reconnect-player, leave-game, volunteer-host, reenter-player, player-away,
// player-active. Reason is only read by leave-game.
type PlayerRequest struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Reason   string `json:"reason,omitempty"`
}

// HostRequest covers host-only requests: end-game, deal-community-card and
// reveal-risks.
type HostRequest struct {
	GameID string `json:"gameId"`
	HostID string `json:"hostId"`
	Reason string `json:"reason,omitempty"`
}

type StartRoundRequest struct {
	GameID string `json:"gameId"`
	HostID string `json:"hostId"`
	Round  int    `json:"round,omitempty"`
}

type SubmitRiskRequest struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Amount   int    `json:"amount"`
}

type DeclareWinnerRequest struct {
	GameID   string `json:"gameId"`
	HostID   string `json:"hostId"`
	WinnerID string `json:"winnerId"`
}

// Ack is the acknowledgment payload. Error is a stable reason string and Code
// its category; both are empty on success.
type Ack struct {
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	Code        engine.Kind     `json:"code,omitempty"`
	GameID      string          `json:"gameId,omitempty"`
	GameSession *engine.Session `json:"gameSession,omitempty"`
	RoleChanged bool            `json:"roleChanged,omitempty"`
	Message     string          `json:"message,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

// Fail builds the acknowledgment for err.
func Fail(err error) Ack {
	return Ack{Success: false, Error: engine.ReasonOf(err), Code: engine.KindOf(err)}
}

// OK acknowledges success with the resulting session.
func OK(s *engine.Session) Ack {
	a := Ack{Success: true, GameSession: s.Redacted()}
	if s != nil {
		a.GameID = s.ID
	}
	return a
}

type ServerMessage struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"requestId,omitempty"`
	Ack         *Ack            `json:"ack,omitempty"`
	Data        any             `json:"data,omitempty"`
	GameSession *engine.Session `json:"gameSession,omitempty"`
}

// EncodeEvent renders a broadcast. The session snapshot rides along so
// clients never have to reconcile partial updates. Sealed risks are redacted.
func EncodeEvent(e engine.Event, s *engine.Session) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: string(e.Type), Data: e.Payload, GameSession: s.Redacted()})
}

func EncodeAck(requestID string, ack Ack) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: AckType, RequestID: requestID, Ack: &ack})
}
