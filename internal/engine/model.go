package engine

import "time"

type SessionStatus string

const (
	StatusLobby  SessionStatus = "lobby"
	StatusRound  SessionStatus = "round"
	StatusActive SessionStatus = "active" // between rounds
	StatusEnded  SessionStatus = "ended"
)

type PlayerStatus string

const (
	PlayerConnected    PlayerStatus = "connected"
	PlayerAway         PlayerStatus = "away"
	PlayerDisconnected PlayerStatus = "disconnected"
	PlayerLeft         PlayerStatus = "left"
)

type GameStatus string

const (
	GameActive     GameStatus = "active"
	GameEliminated GameStatus = "eliminated"
	GameOut        GameStatus = "out"
	GameFinalist   GameStatus = "finalist"
)

const (
	StartingPoints    = 100
	MinimumToPlay     = 5
	RiskStep          = 5
	MaxCommunityCards = 5
	DefaultMaxPlayers = 8
)

type Player struct {
	ID             string       `json:"id"`
	Nickname       string       `json:"nickname"`
	IsHost         bool         `json:"isHost"`
	Status         PlayerStatus `json:"status"`
	ConnID         string       `json:"-"`
	JoinedAt       time.Time    `json:"joinedAt"`
	DisconnectedAt *time.Time   `json:"disconnectedAt,omitempty"`

	Points      int        `json:"points"`
	GameStatus  GameStatus `json:"gameStatus"`
	HasRisked   bool       `json:"hasRisked"`
	CurrentRisk int        `json:"currentRisk,omitempty"`
	ReentryUsed bool       `json:"reentryUsed"`
}

// Present reports whether the player counts toward host-absence quorum.
func (p Player) Present() bool {
	return p.Status == PlayerConnected || p.Status == PlayerAway
}

type RiskPhase struct {
	Active      bool           `json:"active"`
	Submissions map[string]int `json:"submissions"`
	Revealed    bool           `json:"revealed"`

	// Submitted is set only on redacted copies, in place of Submissions.
	Submitted []string `json:"submitted,omitempty"`
}

type ShowdownPhase struct {
	Finalists []string `json:"finalists"`
}

// GameRound is the immutable audit record of one revealed round.
type GameRound struct {
	Round               int            `json:"round"`
	Outcome             Outcome        `json:"outcome"`
	Risks               map[string]int `json:"risks"`
	Eliminated          []string       `json:"eliminated"`
	Finalists           []string       `json:"finalists,omitempty"`
	PotBefore           int            `json:"potBefore"`
	PotAfter            int            `json:"potAfter"`
	CommunityCardsDealt int            `json:"communityCardsDealt"`
	Timestamp           time.Time      `json:"timestamp"`
}

type Session struct {
	ID     string        `json:"id"`
	Code   string        `json:"code"`
	Status SessionStatus `json:"status"`
	HostID string        `json:"hostId"`

	Players []Player `json:"players"`

	Pot               int            `json:"pot"`
	Round             int            `json:"round"`
	CommunityCards    int            `json:"communityCards"`
	MaxCommunityCards int            `json:"maxCommunityCards"`
	RiskPhase         *RiskPhase     `json:"riskPhase,omitempty"`
	ShowdownPhase     *ShowdownPhase `json:"showdownPhase,omitempty"`
	GameHistory       []GameRound    `json:"gameHistory"`
	// FormerHostIDs lists players who lost the host role to a volunteer.
	FormerHostIDs []string `json:"formerHostIds,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}
