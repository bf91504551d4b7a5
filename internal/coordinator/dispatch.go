package coordinator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
	"github.com/DoyleJ11/showdown-backend/pkg/types"
)

// Dispatch runs one client request arriving on connID and returns its
// acknowledgment. It never panics on bad input; every request gets an answer.
func (c *Coordinator) Dispatch(ctx context.Context, connID string, msg types.ClientMessage) types.Ack {
	ack := c.dispatch(ctx, connID, msg)
	if !ack.Success {
		c.log.Debug("request rejected",
			zap.String("conn_id", connID),
			zap.String("event", msg.Type),
			zap.String("reason", ack.Error))
	}
	return ack
}

func (c *Coordinator) dispatch(ctx context.Context, connID string, msg types.ClientMessage) types.Ack {
	switch msg.Type {
	case types.CreateGame:
		req, err := decode[types.CreateGameRequest](msg.Data)
		if err != nil {
			return types.Fail(err)
		}
		return reply(c.CreateGame(ctx, connID, req.GameID, req.GameCode, req.HostID, req.HostNickname))

	case types.JoinGame:
		req, err := decode[types.JoinGameRequest](msg.Data)
		if err != nil {
			return types.Fail(err)
		}
		return reply(c.JoinGame(ctx, connID, req.GameCode, req.PlayerID, req.PlayerNickname))

	case types.ReconnectHost:
		req, err := decode[types.ReconnectHostRequest](msg.Data)
		if err != nil {
			return types.Fail(err)
		}
		res, err := c.ReconnectHost(ctx, connID, req.GameID, req.HostID)
		if err != nil {
			return types.Fail(err)
		}
		ack := types.OK(res.Session)
		ack.RoleChanged = res.RoleChanged
		ack.Message = res.Message
		return ack

	case types.Heartbeat:
		return types.Ack{Success: true, Timestamp: c.Heartbeat(connID)}

	case types.ReconnectPlayer, types.LeaveGame, types.VolunteerHost, types.ReenterPlayer,
		types.PlayerAway, types.PlayerActive, types.SubmitRisk:
		return c.dispatchPlayer(ctx, connID, msg)

	case types.EndGame, types.StartRound, types.DealCommunityCard, types.RevealRisks, types.DeclareWinner:
		return c.dispatchHost(ctx, connID, msg)

	default:
		return types.Fail(engine.ErrUnknownCommand)
	}
}

func (c *Coordinator) dispatchPlayer(ctx context.Context, connID string, msg types.ClientMessage) types.Ack {
	var (
		gameID, playerID string
		req              types.PlayerRequest
		risk             types.SubmitRiskRequest
		err              error
	)
	if msg.Type == types.SubmitRisk {
		risk, err = decode[types.SubmitRiskRequest](msg.Data)
		gameID, playerID = risk.GameID, risk.PlayerID
	} else {
		req, err = decode[types.PlayerRequest](msg.Data)
		gameID, playerID = req.GameID, req.PlayerID
	}
	if err != nil {
		return types.Fail(err)
	}
	gameID, playerID = c.caller(connID, gameID, playerID)

	switch msg.Type {
	case types.ReconnectPlayer:
		return reply(c.ReconnectPlayer(ctx, connID, gameID, playerID))
	case types.LeaveGame:
		return reply(c.LeaveGame(ctx, connID, gameID, playerID, req.Reason))
	case types.VolunteerHost:
		return reply(c.VolunteerHost(ctx, gameID, playerID))
	case types.ReenterPlayer:
		return reply(c.ReenterPlayer(ctx, gameID, playerID))
	case types.PlayerAway:
		return reply(c.SetAway(ctx, gameID, playerID))
	case types.PlayerActive:
		return reply(c.SetActive(ctx, gameID, playerID))
	default:
		return reply(c.SubmitRisk(ctx, gameID, playerID, risk.Amount))
	}
}

func (c *Coordinator) dispatchHost(ctx context.Context, connID string, msg types.ClientMessage) types.Ack {
	switch msg.Type {
	case types.StartRound:
		req, err := decode[types.StartRoundRequest](msg.Data)
		if err != nil {
			return types.Fail(err)
		}
		gameID, hostID := c.caller(connID, req.GameID, req.HostID)
		return reply(c.StartRound(ctx, gameID, hostID, req.Round))

	case types.DeclareWinner:
		req, err := decode[types.DeclareWinnerRequest](msg.Data)
		if err != nil {
			return types.Fail(err)
		}
		gameID, hostID := c.caller(connID, req.GameID, req.HostID)
		return reply(c.DeclareWinner(ctx, gameID, hostID, req.WinnerID))
	}

	req, err := decode[types.HostRequest](msg.Data)
	if err != nil {
		return types.Fail(err)
	}
	gameID, hostID := c.caller(connID, req.GameID, req.HostID)
	switch msg.Type {
	case types.EndGame:
		return reply(c.EndGame(ctx, gameID, hostID, req.Reason))
	case types.DealCommunityCard:
		return reply(c.DealCommunityCard(ctx, gameID, hostID))
	default:
		return reply(c.RevealRisks(ctx, gameID, hostID))
	}
}

// caller fills in whatever the request left out from the connection's
// binding.
func (c *Coordinator) caller(connID, gameID, playerID string) (string, string) {
	if gameID != "" && playerID != "" {
		return gameID, playerID
	}
	sid, pid, ok := c.presence.Lookup(connID)
	if !ok {
		return gameID, playerID
	}
	if gameID == "" {
		gameID = sid
	}
	if playerID == "" && gameID == sid {
		playerID = pid
	}
	return gameID, playerID
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, engine.ErrBadRequest
	}
	return v, nil
}

func reply(s *engine.Session, err error) types.Ack {
	if err != nil {
		return types.Fail(err)
	}
	return types.OK(s)
}
