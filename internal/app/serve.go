package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"algo-status-ingest/internal/api"
)

// Serve runs the read API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	server := api.NewServer(store, a.Config.API, a.Logger)

	err = server.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("read API terminated with error")
		return err
	}

	a.Logger.Info().Msg("read API stopped")
	return nil
}
