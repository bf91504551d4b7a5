package engine

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// NewSession builds a lobby with the host as its only player.
func NewSession(id, code, hostID, hostNickname, connID string, now time.Time) *Session {
	return &Session{
		ID:     id,
		Code:   code,
		Status: StatusLobby,
		HostID: hostID,
		Players: []Player{{
			ID:         hostID,
			Nickname:   strings.TrimSpace(hostNickname),
			IsHost:     true,
			Status:     PlayerConnected,
			ConnID:     connID,
			JoinedAt:   now,
			Points:     StartingPoints,
			GameStatus: GameActive,
		}},
		MaxCommunityCards: MaxCommunityCards,
		GameHistory:       []GameRound{},
		CreatedAt:         now,
		LastActivity:      now,
	}
}

func FindPlayer(s *Session, id string) int {
	if id == "" {
		return -1
	}
	for i := range s.Players {
		if s.Players[i].ID == id {
			return i
		}
	}
	return -1
}

func FindPlayerByConn(s *Session, connID string) int {
	if connID == "" {
		return -1
	}
	for i := range s.Players {
		if s.Players[i].ConnID == connID {
			return i
		}
	}
	return -1
}

// NicknameTaken compares case-insensitively against everyone still on the roster.
func NicknameTaken(s *Session, nickname string) bool {
	nickname = strings.TrimSpace(nickname)
	for _, p := range s.Players {
		if strings.EqualFold(p.Nickname, nickname) {
			return true
		}
	}
	return false
}

func ActivePlayers(players []Player) []Player {
	var out []Player
	for _, p := range players {
		if p.GameStatus == GameActive {
			out = append(out, p)
		}
	}
	return out
}

// AllRisksIn reports whether every active player has a submission in the open risk phase.
func AllRisksIn(s *Session) bool {
	if s.RiskPhase == nil || !s.RiskPhase.Active || len(s.RiskPhase.Submissions) == 0 {
		return false
	}
	for _, p := range ActivePlayers(s.Players) {
		if _, ok := s.RiskPhase.Submissions[p.ID]; !ok {
			return false
		}
	}
	return true
}

// SyncHostFlags makes IsHost true for exactly the player whose id is HostID.
func SyncHostFlags(s *Session) {
	for i := range s.Players {
		s.Players[i].IsHost = s.Players[i].ID == s.HostID
	}
}

// Redacted returns s as it may be shown to players. While risks are sealed
// the amounts are withheld and only the ids that have submitted remain.
// s itself is never modified.
func (s *Session) Redacted() *Session {
	if s == nil || s.RiskPhase == nil || !s.RiskPhase.Active || s.RiskPhase.Revealed {
		return s
	}
	c := s.Clone()
	c.RiskPhase.Submitted = slices.Sorted(maps.Keys(c.RiskPhase.Submissions))
	c.RiskPhase.Submissions = map[string]int{}
	for i := range c.Players {
		c.Players[i].CurrentRisk = 0
	}
	return c
}

// WasHost reports whether playerID held the host role before a transfer.
func WasHost(s *Session, playerID string) bool {
	return slices.Contains(s.FormerHostIDs, playerID)
}

// Clone returns a deep copy that shares no maps or slices with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Players = slices.Clone(s.Players)
	for i, p := range c.Players {
		if p.DisconnectedAt != nil {
			at := *p.DisconnectedAt
			p.DisconnectedAt = &at
		}
		c.Players[i] = p
	}
	if s.RiskPhase != nil {
		rp := *s.RiskPhase
		rp.Submissions = maps.Clone(s.RiskPhase.Submissions)
		c.RiskPhase = &rp
	}
	if s.ShowdownPhase != nil {
		c.ShowdownPhase = &ShowdownPhase{Finalists: slices.Clone(s.ShowdownPhase.Finalists)}
	}
	c.FormerHostIDs = slices.Clone(s.FormerHostIDs)
	c.GameHistory = slices.Clone(s.GameHistory)
	for i, r := range c.GameHistory {
		r.Risks = maps.Clone(r.Risks)
		r.Eliminated = slices.Clone(r.Eliminated)
		r.Finalists = slices.Clone(r.Finalists)
		c.GameHistory[i] = r
	}
	return &c
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
