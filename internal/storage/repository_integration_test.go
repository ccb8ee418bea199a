//go:build integration

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a real PostgreSQL instance and verify the conflict
// semantics the unit tests can only assert on SQL text. Enable with
//
//	go test -tags integration ./internal/storage -run Integration
//
// and point ALGOSTATUS_TEST_DATABASE_DSN at a disposable database.
func integrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("ALGOSTATUS_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("ALGOSTATUS_TEST_DATABASE_DSN not set")
	}

	require.NoError(t, Migrate(dsn))

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(), `TRUNCATE status_records, ingest_ledger`)
	require.NoError(t, err)

	return NewStore(pool, DefaultBatchSize)
}

func integrationRecord(batchID, owner string, ts time.Time, size string) StatusRecord {
	d := decimal.RequireFromString(size)
	return StatusRecord{
		BatchID:       batchID,
		Owner:         owner,
		TS:            ts,
		SizeRequested: &d,
		SourceKey:     "raw/it.csv",
		Raw:           map[string]any{"state_sz": size},
	}
}

func TestIntegrationInsertIdempotentReload(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	records := []StatusRecord{
		integrationRecord("b-1", "0xabc", ts, "1.5"),
		integrationRecord("b-1", "0xabc", ts.Add(time.Minute), "2.5"),
	}

	inserted, err := store.InsertStatusRecords(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	// Reloading the same file inserts nothing and changes nothing.
	inserted, err = store.InsertStatusRecords(ctx, records)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	rows, err := store.ListRecords(ctx, "0xabc", ts.Add(-time.Hour), ts.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestIntegrationFirstWriteWins(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	first := integrationRecord("b-1", "0xabc", ts, "1.5")
	inserted, err := store.InsertStatusRecords(ctx, []StatusRecord{first})
	require.NoError(t, err)
	require.Equal(t, int64(1), inserted)

	// Same key, different payload: the conflicting row is dropped and the
	// original payload survives.
	conflicting := integrationRecord("b-1", "0xabc", ts, "999")
	inserted, err = store.InsertStatusRecords(ctx, []StatusRecord{conflicting})
	require.NoError(t, err)
	assert.Zero(t, inserted)

	rows, err := store.RecordHistory(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].SizeRequested)
	assert.Equal(t, "1.5", rows[0].SizeRequested.String())
}

func TestIntegrationLedgerUpsertAndProcessedKeys(t *testing.T) {
	store := integrationStore(t)
	ctx := context.Background()
	modified := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	failure := "Parse error: row 2"
	require.NoError(t, store.MarkProcessed(ctx, "raw/a.csv", modified, 0, &failure))

	keys, err := store.ProcessedKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "raw/a.csv", "failed files stay eligible")

	// A later successful run overwrites the failure in place.
	require.NoError(t, store.MarkProcessed(ctx, "raw/a.csv", modified, 7, nil))

	keys, err = store.ProcessedKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "raw/a.csv")

	last, err := store.LastSuccessfulIngest(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "raw/a.csv", last.SourceKey)
	assert.Equal(t, int64(7), last.RowsIngested)
}
