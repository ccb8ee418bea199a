package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"algo-status-ingest/internal/normalize"
	"algo-status-ingest/internal/source"
	"algo-status-ingest/internal/storage"
)

// Loader is the slice of the storage layer the runner depends on. Loading
// records and writing the ledger are separate, separately-retriable steps.
type Loader interface {
	InsertStatusRecords(ctx context.Context, records []storage.StatusRecord) (int64, error)
	MarkProcessed(ctx context.Context, sourceKey string, lastModified time.Time, rowsIngested int64, errorText *string) error
	ProcessedKeys(ctx context.Context) (map[string]struct{}, error)
}

// Summary aggregates one run's outcome. It is returned to the caller rather
// than accumulated in any process-wide state.
type Summary struct {
	Listed    int
	Skipped   int
	Succeeded int
	Failed    int
}

// Runner drives incremental ingestion: list candidates, filter against the
// ledger, then download, parse, and load each new file in listing order.
type Runner struct {
	source source.Client
	loader Loader
	logger zerolog.Logger
}

// NewRunner constructs an ingest runner.
func NewRunner(src source.Client, loader Loader, logger zerolog.Logger) *Runner {
	return &Runner{
		source: src,
		loader: loader,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// Run performs one incremental pass. A failure to list candidates or fetch
// the processed-key set aborts the run; individual file failures do not.
func (r *Runner) Run(ctx context.Context, since *time.Time) (Summary, error) {
	objects, err := r.source.ListObjects(ctx, since)
	if err != nil {
		return Summary{}, fmt.Errorf("list candidate objects: %w", err)
	}

	processed, err := r.loader.ProcessedKeys(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch processed keys: %w", err)
	}

	summary := Summary{Listed: len(objects)}
	for _, obj := range objects {
		// A key stays excluded once successfully processed, regardless of
		// later modification times. Only explicit reprocessing reopens it.
		if _, done := processed[obj.Key]; done {
			summary.Skipped++
			continue
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		if r.processObject(ctx, obj) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	r.logger.Info().
		Int("listed", summary.Listed).
		Int("skipped", summary.Skipped).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("ingest run completed")
	return summary, nil
}

// ProcessKey force-processes a single key regardless of ledger state,
// for manual replay and backfill.
func (r *Runner) ProcessKey(ctx context.Context, key string) error {
	obj, err := r.source.GetObjectMetadata(ctx, key)
	if err != nil {
		return fmt.Errorf("object metadata: %w", err)
	}
	if !r.processObject(ctx, obj) {
		return fmt.Errorf("processing %s failed; see ingest ledger for the cause", key)
	}
	return nil
}

// ProcessLocalFile ingests one local batch file under a "local:" source key,
// bypassing the object store and the ledger scan.
func (r *Runner) ProcessLocalFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}

	sourceKey := "local:" + path
	records, err := normalize.ParseObject(content, sourceKey)
	if err != nil {
		return err
	}

	rows, err := r.loader.InsertStatusRecords(ctx, records)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}

	r.logger.Info().Str("path", path).Int64("rows", rows).Msg("local file ingested")
	return nil
}

// processObject applies the per-file state machine. Every terminal outcome
// writes a ledger entry; the returned bool is the file's overall result.
func (r *Runner) processObject(ctx context.Context, obj source.Object) bool {
	logger := r.logger.With().Str("key", obj.Key).Logger()
	logger.Info().Msg("processing object")

	content, err := r.source.DownloadObject(ctx, obj.Key)
	if err != nil {
		logger.Error().Err(err).Msg("download failed")
		r.recordFailure(ctx, obj, fmt.Sprintf("Download error: %v", err))
		return false
	}

	records, err := normalize.ParseObject(content, obj.Key)
	if err != nil {
		logger.Error().Err(err).Msg("parse failed")
		r.recordFailure(ctx, obj, fmt.Sprintf("Parse error: %v", err))
		return false
	}

	if len(records) == 0 {
		logger.Warn().Msg("no records in object")
		r.markProcessed(ctx, obj, 0)
		return true
	}

	rows, err := r.loader.InsertStatusRecords(ctx, records)
	if err != nil {
		logger.Error().Err(err).Msg("load failed")
		r.recordFailure(ctx, obj, fmt.Sprintf("Load error: %v", err))
		return false
	}

	// The data is durably loaded at this point. A ledger-write failure is
	// logged as a non-fatal anomaly and the file still counts as a success;
	// the idempotent load makes the eventual retry safe.
	r.markProcessed(ctx, obj, rows)

	logger.Info().Int64("rows", rows).Msg("object processed")
	return true
}

func (r *Runner) recordFailure(ctx context.Context, obj source.Object, errorText string) {
	if err := r.loader.MarkProcessed(ctx, obj.Key, obj.LastModified, 0, &errorText); err != nil {
		r.logger.Error().Err(err).Str("key", obj.Key).Msg("failed to record failure in ingest ledger")
	}
}

func (r *Runner) markProcessed(ctx context.Context, obj source.Object, rows int64) {
	if err := r.loader.MarkProcessed(ctx, obj.Key, obj.LastModified, rows, nil); err != nil {
		r.logger.Error().Err(err).Str("key", obj.Key).Msg("ledger write failed after successful load")
	}
}
