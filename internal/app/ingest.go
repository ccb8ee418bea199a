package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"algo-status-ingest/internal/scheduler"
)

// Ingest runs the ingest pipeline: a single incremental pass by default, a
// local file when --file is given, or a scheduled loop with --watch.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	if a.Config.Source.Bucket == "" && opts.File == "" {
		return errors.New("source.bucket is not configured")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := a.newRunner(ctx, store, opts.File == "")
	if err != nil {
		return err
	}

	if opts.File != "" {
		return runner.ProcessLocalFile(ctx, opts.File)
	}

	if !opts.Watch {
		summary, runErr := runner.Run(ctx, opts.Since)
		if runErr != nil {
			return runErr
		}
		a.Logger.Info().
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Msg("ingest finished")
		return nil
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Ingest.WatchInterval,
		AlignToStart: a.Config.Ingest.AlignToBucket,
		StartupDelay: a.Config.Ingest.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Ingest.WatchInterval).Msg("starting scheduled ingestion")
	err = sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		_, tickErr := runner.Run(tickCtx, opts.Since)
		return tickErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("scheduled ingestion stopped")
	return nil
}

// Reprocess forces a single source key through the pipeline regardless of
// its ledger state.
func (a *App) Reprocess(ctx context.Context, key string) error {
	if a.Config.Source.Bucket == "" {
		return errors.New("source.bucket is not configured")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := a.newRunner(ctx, store, true)
	if err != nil {
		return err
	}

	if err := runner.ProcessKey(ctx, key); err != nil {
		return fmt.Errorf("reprocess %s: %w", key, err)
	}
	a.Logger.Info().Str("key", key).Msg("reprocess completed")
	return nil
}
