package engine

import (
	"strings"
	"time"
)

type CommandType string

const (
	CmdJoin              CommandType = "Join"
	CmdReconnect         CommandType = "Reconnect"
	CmdLeave             CommandType = "Leave"
	CmdDisconnect        CommandType = "Disconnect"
	CmdSetAway           CommandType = "SetAway"
	CmdSetActive         CommandType = "SetActive"
	CmdStartRound        CommandType = "StartRound"
	CmdSubmitRisk        CommandType = "SubmitRisk"
	CmdRevealRisks       CommandType = "RevealRisks"
	CmdDealCommunityCard CommandType = "DealCommunityCard"
	CmdDeclareWinner     CommandType = "DeclareWinner"
	CmdReenter           CommandType = "Reenter"
	CmdTransferHost      CommandType = "TransferHost"
	CmdEnd               CommandType = "End"
	CmdTerminate         CommandType = "Terminate" // system-initiated end, no host check
)

/*
	CmdJoin           -> EvtPlayerJoined | EvtPlayerReconnected (same id rejoining)
	CmdReconnect      -> EvtPlayerReconnected
	CmdDisconnect     -> EvtPlayerDisconnected
	CmdStartRound     -> EvtRoundStarted
	CmdSubmitRisk     -> EvtRiskSubmitted (-> EvtAllRisksIn)
	CmdRevealRisks    -> EvtRisksRevealed -> EvtPlayerEliminated...
	CmdTransferHost   -> EvtHostVolunteerClaimed -> EvtHostTransferred
	CmdDeclareWinner  -> EvtWinnerDeclared -> EvtGameEnded
*/

type Command struct {
	Type     CommandType
	PlayerID string // subject of the command, or the caller for host-only commands
	Nickname string
	ConnID   string
	Amount   int
	Round    int
	TargetID string
	Reason   string

	MaxPlayers     int
	StartingPoints int
	TimerSeconds   int
}

// Apply validates cmd against s and, only when it is legal, mutates s and
// returns the events to broadcast. On error s is left untouched.
//
// Checks run existence first, then permission, then state consistency.
func Apply(s *Session, cmd Command, now time.Time) ([]Event, error) {
	if s == nil {
		return nil, ErrSessionNotFound
	}

	var (
		events []Event
		err    error
	)
	switch cmd.Type {
	case CmdJoin:
		events, err = applyJoin(s, cmd, now)
	case CmdReconnect:
		events, err = applyReconnect(s, cmd, now)
	case CmdLeave:
		events, err = applyLeave(s, cmd, now)
	case CmdDisconnect:
		events, err = applyDisconnect(s, cmd, now)
	case CmdSetAway:
		events, err = applyPresence(s, cmd, PlayerAway)
	case CmdSetActive:
		events, err = applyPresence(s, cmd, PlayerConnected)
	case CmdStartRound:
		events, err = applyStartRound(s, cmd)
	case CmdSubmitRisk:
		events, err = applySubmitRisk(s, cmd)
	case CmdRevealRisks:
		events, err = applyReveal(s, cmd, now)
	case CmdDealCommunityCard:
		events, err = applyDeal(s, cmd)
	case CmdDeclareWinner:
		events, err = applyDeclareWinner(s, cmd, now)
	case CmdReenter:
		events, err = applyReenter(s, cmd)
	case CmdTransferHost:
		events, err = applyTransferHost(s, cmd)
	case CmdEnd:
		if cmd.PlayerID != s.HostID {
			return nil, ErrNotHost
		}
		events = endSession(s, cmd.Reason, cmd.PlayerID, "", now)
	case CmdTerminate:
		events = endSession(s, cmd.Reason, "", cmd.Nickname, now)
	default:
		return nil, ErrUnknownCommand
	}
	if err != nil {
		return nil, err
	}
	s.LastActivity = now
	return events, nil
}

func applyJoin(s *Session, cmd Command, now time.Time) ([]Event, error) {
	if FindPlayer(s, cmd.PlayerID) >= 0 {
		return applyReconnect(s, cmd, now)
	}
	if s.Status == StatusEnded {
		return nil, ErrGameEnded
	}
	if NicknameTaken(s, cmd.Nickname) {
		return nil, ErrNicknameTaken
	}
	if cmd.MaxPlayers > 0 && len(s.Players) >= cmd.MaxPlayers {
		return nil, ErrGameFull
	}

	points := cmd.StartingPoints
	if points <= 0 {
		points = StartingPoints
	}
	p := Player{
		ID:         cmd.PlayerID,
		Nickname:   strings.TrimSpace(cmd.Nickname),
		IsHost:     cmd.PlayerID == s.HostID,
		Status:     PlayerConnected,
		ConnID:     cmd.ConnID,
		JoinedAt:   now,
		Points:     points,
		GameStatus: GameActive,
	}
	s.Players = append(s.Players, p)
	return []Event{{Type: EvtPlayerJoined, Payload: PlayerJoined{Player: p}}}, nil
}

func applyReconnect(s *Session, cmd Command, now time.Time) ([]Event, error) {
	i := FindPlayer(s, cmd.PlayerID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}
	p := &s.Players[i]
	p.Status = PlayerConnected
	if cmd.ConnID != "" {
		p.ConnID = cmd.ConnID
	}
	p.DisconnectedAt = nil
	p.IsHost = p.ID == s.HostID

	return []Event{{Type: EvtPlayerReconnected, Payload: PlayerReconnected{
		PlayerID:       p.ID,
		PlayerNickname: p.Nickname,
		ReconnectTime:  now,
	}}}, nil
}

func applyLeave(s *Session, cmd Command, now time.Time) ([]Event, error) {
	i := FindPlayer(s, cmd.PlayerID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}
	p := s.Players[i]
	s.Players = append(s.Players[:i:i], s.Players[i+1:]...)

	events := []Event{{Type: EvtPlayerLeft, Payload: PlayerLeftPayload{
		PlayerID:       p.ID,
		PlayerNickname: p.Nickname,
		Reason:         cmd.Reason,
		LeftTime:       now,
	}}}
	// The leaver may have been the last active player without a submission.
	if p.GameStatus == GameActive && !p.HasRisked && AllRisksIn(s) {
		events = append(events, Event{Type: EvtAllRisksIn, Payload: AllRisksInPayload{CanReveal: true}})
	}
	return events, nil
}

func applyDisconnect(s *Session, cmd Command, now time.Time) ([]Event, error) {
	i := FindPlayerByConn(s, cmd.ConnID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}
	p := &s.Players[i]
	p.Status = PlayerDisconnected
	at := now
	p.DisconnectedAt = &at

	return []Event{{Type: EvtPlayerDisconnected, Payload: PlayerDisconnectedPayload{
		PlayerID:       p.ID,
		PlayerNickname: p.Nickname,
		DisconnectTime: now,
		Reason:         cmd.Reason,
	}}}, nil
}

func applyPresence(s *Session, cmd Command, status PlayerStatus) ([]Event, error) {
	i := FindPlayer(s, cmd.PlayerID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}
	p := &s.Players[i]
	p.Status = status
	if status == PlayerConnected {
		p.DisconnectedAt = nil
	}
	return []Event{{Type: EvtPlayerStatusChanged, Payload: PlayerStatusChanged{
		PlayerID:       p.ID,
		PlayerNickname: p.Nickname,
		Status:         status,
	}}}, nil
}

func applyStartRound(s *Session, cmd Command) ([]Event, error) {
	if cmd.PlayerID != s.HostID {
		return nil, ErrNotHost
	}
	switch {
	case s.Status == StatusEnded:
		return nil, ErrGameEnded
	case s.Status == StatusRound:
		return nil, ErrRoundInProgress
	case s.ShowdownPhase != nil:
		return nil, ErrShowdownPending
	case cmd.Round != 0 && cmd.Round != s.Round+1:
		return nil, ErrRoundMismatch
	case len(ActivePlayers(s.Players)) < 2:
		return nil, ErrNotEnoughPlayers
	}

	for i := range s.Players {
		if s.Players[i].GameStatus == GameActive {
			s.Players[i].HasRisked = false
			s.Players[i].CurrentRisk = 0
		}
	}
	s.RiskPhase = &RiskPhase{Active: true, Submissions: map[string]int{}}
	s.Status = StatusRound
	s.Round++
	s.CommunityCards = 0

	return []Event{{Type: EvtRoundStarted, Payload: RoundStarted{
		Round:        s.Round,
		TimerSeconds: cmd.TimerSeconds,
	}}}, nil
}

func applySubmitRisk(s *Session, cmd Command) ([]Event, error) {
	i := FindPlayer(s, cmd.PlayerID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}
	p := &s.Players[i]
	if s.RiskPhase == nil || !s.RiskPhase.Active || s.RiskPhase.Revealed {
		return nil, ErrRiskPhaseClosed
	}
	if p.GameStatus != GameActive {
		return nil, ErrPlayerNotActive
	}
	if _, dup := s.RiskPhase.Submissions[p.ID]; dup || p.HasRisked {
		return nil, ErrAlreadyRisked
	}
	if err := ValidateRisk(p.Points, cmd.Amount); err != nil {
		return nil, err
	}

	s.RiskPhase.Submissions[p.ID] = cmd.Amount
	p.HasRisked = true
	p.CurrentRisk = cmd.Amount

	events := []Event{{
		Type:         EvtRiskSubmitted,
		Payload:      RiskSubmitted{PlayerID: p.ID, PlayerNickname: p.Nickname},
		ExceptPlayer: p.ID,
	}}
	if AllRisksIn(s) {
		events = append(events, Event{Type: EvtAllRisksIn, Payload: AllRisksInPayload{CanReveal: true}})
	}
	return events, nil
}

func applyReveal(s *Session, cmd Command, now time.Time) ([]Event, error) {
	if cmd.PlayerID != s.HostID {
		return nil, ErrNotHost
	}
	if s.RiskPhase == nil {
		if n := len(s.GameHistory); n > 0 && s.GameHistory[n-1].Round == s.Round {
			return nil, ErrAlreadyRevealed
		}
		return nil, ErrRiskPhaseClosed
	}
	if s.RiskPhase.Revealed {
		return nil, ErrAlreadyRevealed
	}
	if !s.RiskPhase.Active {
		return nil, ErrRiskPhaseClosed
	}

	submissions := s.RiskPhase.Submissions
	before := append([]Player(nil), s.Players...)
	res := Eliminate(ActivePlayers(s.Players), submissions)

	risks := make(map[string]int, len(res.Participants))
	for _, id := range res.Participants {
		risks[id] = submissions[id]
	}

	record := GameRound{
		Round:               s.Round,
		Outcome:             res.Outcome,
		Risks:               risks,
		Eliminated:          res.Eliminated,
		Finalists:           res.Finalists,
		PotBefore:           s.Pot,
		PotAfter:            s.Pot + res.PotIncrease,
		CommunityCardsDealt: s.CommunityCards,
		Timestamp:           now,
	}

	s.Players = Settle(s.Players, res, risks)
	s.Pot = record.PotAfter
	s.GameHistory = append(s.GameHistory, record)
	s.RiskPhase = nil
	s.Status = StatusActive
	if res.Outcome == OutcomeShowdown {
		var finalists []string
		for _, id := range res.Finalists {
			if i := FindPlayer(s, id); i >= 0 && s.Players[i].GameStatus == GameFinalist {
				finalists = append(finalists, id)
			}
		}
		if len(finalists) > 0 {
			s.ShowdownPhase = &ShowdownPhase{Finalists: finalists}
		}
	}

	events := []Event{{Type: EvtRisksRevealed, Payload: RisksRevealed{
		Outcome:    res.Outcome,
		Risks:      risks,
		Eliminated: res.Eliminated,
		Finalists:  res.Finalists,
		NewPot:     s.Pot,
		Round:      record,
	}}}
	for i, p := range s.Players {
		was := before[i].GameStatus
		if was == p.GameStatus || (p.GameStatus != GameEliminated && p.GameStatus != GameOut) {
			continue
		}
		events = append(events, Event{Type: EvtPlayerEliminated, Payload: PlayerEliminated{
			PlayerID:         p.ID,
			PlayerNickname:   p.Nickname,
			EliminationRound: s.Round,
			NewStatus:        p.GameStatus,
		}})
	}
	return events, nil
}

func applyDeal(s *Session, cmd Command) ([]Event, error) {
	if cmd.PlayerID != s.HostID {
		return nil, ErrNotHost
	}
	switch {
	case s.Status == StatusEnded:
		return nil, ErrGameEnded
	case s.Status == StatusLobby:
		return nil, ErrGameNotStarted
	}
	limit := s.MaxCommunityCards
	if limit <= 0 {
		limit = MaxCommunityCards
	}
	if s.CommunityCards >= limit {
		return nil, ErrMaxCommunityCards
	}
	s.CommunityCards++
	return []Event{{Type: EvtCommunityCardDealt, Payload: CommunityCardDealt{
		CardNumber: s.CommunityCards,
		TotalCards: limit,
	}}}, nil
}

func applyDeclareWinner(s *Session, cmd Command, now time.Time) ([]Event, error) {
	w := FindPlayer(s, cmd.TargetID)
	if w < 0 {
		return nil, ErrPlayerNotFound
	}
	if cmd.PlayerID != s.HostID {
		return nil, ErrNotHost
	}
	if s.ShowdownPhase == nil {
		return nil, ErrNoShowdown
	}
	finalist := false
	for _, id := range s.ShowdownPhase.Finalists {
		if id == cmd.TargetID {
			finalist = true
		}
	}
	if !finalist {
		return nil, ErrNotFinalist
	}

	winner := &s.Players[w]
	winnings := s.Pot
	winner.Points += winnings
	s.Pot = 0
	s.ShowdownPhase = nil

	events := []Event{{Type: EvtWinnerDeclared, Payload: WinnerDeclared{
		WinnerID:       winner.ID,
		WinnerNickname: winner.Nickname,
		Winnings:       winnings,
	}}}
	return append(events, endSession(s, "winner-declared", cmd.PlayerID, "", now)...), nil
}

func applyReenter(s *Session, cmd Command) ([]Event, error) {
	i := FindPlayer(s, cmd.PlayerID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}
	if s.Status == StatusRound {
		return nil, ErrRoundInProgress
	}
	p := &s.Players[i]
	if p.GameStatus != GameEliminated || p.ReentryUsed || p.Points < MinimumToPlay {
		return nil, ErrReentryUnavailable
	}
	p.GameStatus = GameActive
	p.ReentryUsed = true
	return []Event{{Type: EvtPlayerReentered, Payload: PlayerReentered{
		PlayerID:       p.ID,
		PlayerNickname: p.Nickname,
		NewPoints:      p.Points,
	}}}, nil
}

func applyTransferHost(s *Session, cmd Command) ([]Event, error) {
	i := FindPlayer(s, cmd.PlayerID)
	if i < 0 {
		return nil, ErrPlayerNotFound
	}
	p := s.Players[i]
	if p.Status != PlayerConnected {
		return nil, ErrNotConnected
	}
	if p.GameStatus != GameActive {
		return nil, ErrPlayerNotActive
	}

	previous := s.HostID
	s.HostID = p.ID
	SyncHostFlags(s)
	if previous != "" && !WasHost(s, previous) {
		s.FormerHostIDs = append(s.FormerHostIDs, previous)
	}

	return []Event{
		{
			Type: EvtHostVolunteerClaimed,
			Payload: HostVolunteerClaimed{
				NewHostID:       p.ID,
				NewHostNickname: p.Nickname,
				Message:         p.Nickname + " is now the host!",
			},
			ExceptPlayer: p.ID,
		},
		{Type: EvtHostTransferred, Payload: HostTransferred{
			NewHostID:       p.ID,
			NewHostNickname: p.Nickname,
			PreviousHostID:  previous,
		}},
	}, nil
}

func endSession(s *Session, reason, endedBy, message string, now time.Time) []Event {
	s.Status = StatusEnded
	s.RiskPhase = nil
	return []Event{{Type: EvtGameEnded, Payload: GameEnded{
		Reason:  reason,
		EndedBy: endedBy,
		EndTime: now,
		Message: message,
	}}}
}
