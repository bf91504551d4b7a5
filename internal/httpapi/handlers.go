package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/showdown-backend/internal/engine"
)

const (
	codeLength   = 8
	codeAttempts = 10
	qrSize       = 256
)

// Games is the read side the HTTP surface needs.
type Games interface {
	Lookup(ctx context.Context, code string) (*engine.Session, error)
	MaxPlayers() int
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

type newGame struct {
	GameID   string `json:"gameId"`
	GameCode string `json:"gameCode"`
	HostID   string `json:"hostId"`
	JoinURL  string `json:"joinUrl"`
}

// CreateGame hands out a free join code and fresh ids. The game itself is
// created over the socket with these values.
func CreateGame(games Games, publicURL string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for range codeAttempts {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			_, err = games.Lookup(r.Context(), c)
			if errors.Is(err, engine.ErrSessionNotFound) {
				code = c
				break
			}
			if err != nil {
				log.Error("code lookup", zap.Error(err))
				http.Error(w, "storage error", http.StatusInternalServerError)
				return
			}
			log.Debug("collision on code, regenerating")
		}
		if code == "" {
			http.Error(w, "failed to generate code", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusCreated, newGame{
			GameID:   uuid.NewString(),
			GameCode: code,
			HostID:   uuid.NewString(),
			JoinURL:  joinURL(publicURL, code),
		})
	}
}

type playerInfo struct {
	ID       string              `json:"id"`
	Nickname string              `json:"nickname"`
	IsHost   bool                `json:"isHost"`
	Status   engine.PlayerStatus `json:"status"`
}

type gameInfo struct {
	ID          string               `json:"id"`
	Code        string               `json:"code"`
	Status      engine.SessionStatus `json:"status"`
	PlayerCount int                  `json:"playerCount"`
	MaxPlayers  int                  `json:"maxPlayers"`
	CanJoin     bool                 `json:"canJoin"`
	Players     []playerInfo         `json:"players"`
}

// GameInfo is the public view used by the join screen.
func GameInfo(games Games, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(w, r, games, log)
		if !ok {
			return
		}
		info := gameInfo{
			ID:          s.ID,
			Code:        s.Code,
			Status:      s.Status,
			PlayerCount: len(s.Players),
			MaxPlayers:  games.MaxPlayers(),
			Players:     make([]playerInfo, 0, len(s.Players)),
		}
		info.CanJoin = s.Status != engine.StatusEnded && (info.MaxPlayers <= 0 || info.PlayerCount < info.MaxPlayers)
		for _, p := range s.Players {
			info.Players = append(info.Players, playerInfo{ID: p.ID, Nickname: p.Nickname, IsHost: p.IsHost, Status: p.Status})
		}
		writeJSON(w, http.StatusOK, info)
	}
}

// QRCode renders the join link for a live game as a PNG.
func QRCode(games Games, publicURL string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(w, r, games, log)
		if !ok {
			return
		}
		png, err := qrcode.Encode(joinURL(publicURL, s.Code), qrcode.Medium, qrSize)
		if err != nil {
			log.Error("qr encode", zap.Error(err))
			http.Error(w, "failed to render qr code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookup(w http.ResponseWriter, r *http.Request, games Games, log *zap.Logger) (*engine.Session, bool) {
	s, err := games.Lookup(r.Context(), chi.URLParam(r, "code"))
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		http.Error(w, "game not found", http.StatusNotFound)
		return nil, false
	case err != nil:
		log.Error("game lookup", zap.Error(err))
		http.Error(w, "storage error", http.StatusInternalServerError)
		return nil, false
	}
	return s, true
}

func joinURL(publicURL, code string) string {
	return strings.TrimRight(publicURL, "/") + "/join/" + code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
