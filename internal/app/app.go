package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/broker"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/config"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/registry"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/store"
	"github.com/pvnkmrksk/stroke-of-deception-pass/internal/store/sqlite"
	transporthttp "github.com/pvnkmrksk/stroke-of-deception-pass/internal/transport/http"
)

// App wires together the store, registry, hub, and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *broker.Hub
	registry        *registry.Registry
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	reg, err := registry.New(ctx, st, registry.Options{
		TTL:        cfg.RoomTTL,
		MaxMembers: cfg.MaxRoomSize,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init registry: %w", err)
	}

	hub := broker.NewHub(reg, logger)
	server := transporthttp.NewServer(hub, reg, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		registry:        reg,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the store and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
