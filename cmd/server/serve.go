package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/showdown-backend/internal/config"
	"github.com/DoyleJ11/showdown-backend/internal/coordinator"
	"github.com/DoyleJ11/showdown-backend/internal/httpapi"
	"github.com/DoyleJ11/showdown-backend/internal/hub"
	"github.com/DoyleJ11/showdown-backend/internal/logging"
	"github.com/DoyleJ11/showdown-backend/internal/presence"
	"github.com/DoyleJ11/showdown-backend/internal/room"
	"github.com/DoyleJ11/showdown-backend/internal/store"
	"github.com/DoyleJ11/showdown-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, cfg *config.Config) (err error) {
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(st))

	tr := presence.New(log, presence.DefaultBuffer)
	h := hub.NewHub(ctx, room.Deps{
		Store:    st,
		Presence: tr,
		Log:      log,
		Settings: room.Settings{
			AbsenceSeconds:   cfg.HostAbsenceSeconds,
			VolunteerSeconds: cfg.VolunteerSeconds,
			RiskTimerSeconds: cfg.RiskTimerSeconds,
			TickInterval:     cfg.TickInterval,
			MaxPlayers:       cfg.MaxPlayers,
			StartingPoints:   cfg.StartingPoints,
		},
	})
	defer h.Shutdown()

	coord := coordinator.New(st, h, tr, log, coordinator.Config{
		MaxPlayers:        cfg.MaxPlayers,
		MaxCommunityCards: cfg.MaxCommunityCards,
		DisconnectGrace:   cfg.DisconnectGrace,
		IdleTimeout:       cfg.SessionIdleTimeout,
		SweepInterval:     cfg.SweepInterval,
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Games:     coord,
			Socket:    ws.Handler(coord, tr, log, ws.Options{OriginPatterns: cfg.AllowedOrigins}),
			PublicURL: cfg.PublicURL,
			Log:       log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage),
			zap.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return coord.RunSweeper(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func migrate(ctx context.Context, cfg *config.Config) (err error) {
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("migrate needs --storage=%s", config.StoragePostgres)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// OpenPostgres migrates before returning.
	st, err := store.OpenPostgres(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	log.Info("schema up to date", zap.String("db", cfg.DB.Name))
	return st.Close()
}

// openStore picks the storage backend once for the whole process.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		return store.OpenPostgres(ctx, cfg.DSN(), log)
	default:
		return store.NewMemory(), nil
	}
}
