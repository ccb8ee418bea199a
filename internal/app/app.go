package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"algo-status-ingest/internal/config"
	"algo-status-ingest/internal/ingest"
	"algo-status-ingest/internal/source"
	"algo-status-ingest/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.Ingest.BatchSize)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newSourceClient(ctx context.Context) (source.Client, error) {
	cfg := a.Config.Source
	return source.NewS3Client(ctx, source.S3Options{
		Bucket:         cfg.Bucket,
		Prefix:         cfg.Prefix,
		Region:         cfg.Region,
		RequestPayer:   cfg.RequestPayer,
		MaxAttempts:    cfg.MaxAttempts,
		RequestTimeout: cfg.RequestTimeout,
	}, a.Logger)
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return storage.Migrate(a.Config.Database.DSN)
}

// IngestOptions configure an ingest invocation.
type IngestOptions struct {
	Since *time.Time
	File  string
	Watch bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting ingest history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

func (a *App) newRunner(ctx context.Context, store *storage.Store, needSource bool) (*ingest.Runner, error) {
	var src source.Client
	if needSource {
		var err error
		src, err = a.newSourceClient(ctx)
		if err != nil {
			return nil, err
		}
	}
	return ingest.NewRunner(src, store, a.Logger), nil
}
