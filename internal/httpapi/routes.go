package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Deps struct {
	Games     Games
	Socket    http.Handler
	PublicURL string
	Log       *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/games", CreateGame(d.Games, d.PublicURL, d.Log))
	r.Get("/games/{code}", GameInfo(d.Games, d.Log))
	r.Get("/games/{code}/qr", QRCode(d.Games, d.PublicURL, d.Log))
	r.Get("/healthz", Healthz)
	if d.Socket != nil {
		r.Handle("/ws", d.Socket)
	}
	return r
}
