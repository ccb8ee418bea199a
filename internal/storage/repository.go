package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// DefaultBatchSize bounds one insert statement when no override is given.
const DefaultBatchSize = 1000

const recordInsertParams = 12

const (
	recordInsertPrefix = `INSERT INTO status_records (
        batch_id,
        owner,
        ts,
        instrument,
        side,
        size_requested,
        size_executed,
        notional_executed,
        status,
        duration_minutes,
        source_key,
        raw_payload
    ) VALUES `

	recordInsertSuffix = ` ON CONFLICT (batch_id, owner, ts) DO NOTHING;`

	recordSelectColumns = `batch_id,
        owner,
        ts,
        instrument,
        side,
        size_requested,
        size_executed,
        notional_executed,
        status,
        duration_minutes,
        source_key,
        raw_payload,
        inserted_at`

	listRecordsSQL = `SELECT ` + recordSelectColumns + `
    FROM status_records
    WHERE owner = $1
      AND ts >= $2
      AND ts <= $3
    ORDER BY batch_id, ts DESC;`

	listRecordsByInstrumentSQL = `SELECT ` + recordSelectColumns + `
    FROM status_records
    WHERE owner = $1
      AND ts >= $2
      AND ts <= $3
      AND instrument = $4
    ORDER BY batch_id, ts DESC;`

	recordHistorySQL = `SELECT ` + recordSelectColumns + `
    FROM status_records
    WHERE batch_id = $1
    ORDER BY ts DESC;`

	countRecordsByDaySQL = `SELECT date_trunc('day', ts) AS day, COUNT(*)
    FROM status_records
    WHERE ts >= $1
      AND ts < $2
    GROUP BY day
    ORDER BY day;`

	markProcessedSQL = `INSERT INTO ingest_ledger (
        source_key,
        last_modified,
        rows_ingested,
        error_text,
        ingested_at
    ) VALUES (
        $1,$2,$3,$4,now()
    )
    ON CONFLICT (source_key) DO UPDATE
    SET
        last_modified = EXCLUDED.last_modified,
        rows_ingested = EXCLUDED.rows_ingested,
        error_text    = EXCLUDED.error_text,
        ingested_at   = now();`

	processedKeysSQL = `SELECT source_key FROM ingest_ledger WHERE error_text IS NULL;`

	ledgerSelectColumns = `source_key, last_modified, rows_ingested, error_text, ingested_at`

	lastSuccessfulIngestSQL = `SELECT ` + ledgerSelectColumns + `
    FROM ingest_ledger
    WHERE error_text IS NULL
    ORDER BY ingested_at DESC
    LIMIT 1;`

	listRecentLedgerSQL = `SELECT ` + ledgerSelectColumns + `
    FROM ingest_ledger
    ORDER BY ingested_at DESC
    LIMIT $1;`
)

// RecordStore defines persistence operations for status records.
type RecordStore interface {
	InsertStatusRecords(ctx context.Context, records []StatusRecord) (int64, error)
	ListRecords(ctx context.Context, owner string, start, end time.Time, instrument *string) ([]StatusRecord, error)
	RecordHistory(ctx context.Context, batchID string) ([]StatusRecord, error)
	CountRecordsByDay(ctx context.Context, from, to time.Time) ([]DailyCount, error)
}

// LedgerStore defines operations on the per-file ingest ledger.
type LedgerStore interface {
	MarkProcessed(ctx context.Context, sourceKey string, lastModified time.Time, rowsIngested int64, errorText *string) error
	ProcessedKeys(ctx context.Context) (map[string]struct{}, error)
	LastSuccessfulIngest(ctx context.Context) (*LedgerEntry, error)
	ListRecentLedger(ctx context.Context, limit int) ([]LedgerEntry, error)
}

// Store aggregates access to status records and the ingest ledger.
type Store struct {
	pool      *pgxpool.Pool
	batchSize int
}

// NewStore wires a pgx pool into a Store. batchSize bounds the number of
// rows per insert statement; values <= 0 fall back to DefaultBatchSize.
func NewStore(pool *pgxpool.Pool, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{pool: pool, batchSize: batchSize}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertStatusRecords bulk-inserts records in batches, skipping rows whose
// natural key already exists. All batches commit atomically; the return value
// is the number of rows actually inserted, which is lower than len(records)
// whenever duplicates were skipped.
func (s *Store) InsertStatusRecords(ctx context.Context, records []StatusRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var inserted int64
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		args := make([]any, 0, len(batch)*recordInsertParams)
		for _, rec := range batch {
			recArgs, argErr := recordArgs(rec)
			if argErr != nil {
				return 0, argErr
			}
			args = append(args, recArgs...)
		}

		tag, execErr := tx.Exec(ctx, buildRecordInsert(len(batch)), args...)
		if execErr != nil {
			return 0, fmt.Errorf("insert status records: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit status records: %w", err)
	}
	return inserted, nil
}

// buildRecordInsert renders a multi-row insert statement for n records.
func buildRecordInsert(n int) string {
	var b strings.Builder
	b.WriteString(recordInsertPrefix)
	for row := 0; row < n; row++ {
		if row > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for col := 0; col < recordInsertParams; col++ {
			if col > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", row*recordInsertParams+col+1)
		}
		b.WriteString(")")
	}
	b.WriteString(recordInsertSuffix)
	return b.String()
}

func recordArgs(rec StatusRecord) ([]any, error) {
	var raw any
	if rec.Raw != nil {
		payload, err := json.Marshal(rec.Raw)
		if err != nil {
			return nil, fmt.Errorf("marshal raw payload: %w", err)
		}
		raw = payload
	}

	return []any{
		rec.BatchID,
		rec.Owner,
		rec.TS,
		nullableString(rec.Instrument),
		nullableString(rec.Side),
		nullableDecimal(rec.SizeRequested),
		nullableDecimal(rec.SizeExecuted),
		nullableDecimal(rec.NotionalExecuted),
		nullableString(rec.Status),
		nullableInt(rec.DurationMinutes),
		rec.SourceKey,
		raw,
	}, nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

// MarkProcessed upserts the ledger row for a source key, refreshing every
// field including ingested_at. Safe to retry.
func (s *Store) MarkProcessed(ctx context.Context, sourceKey string, lastModified time.Time, rowsIngested int64, errorText *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg any
	if errorText != nil {
		errMsg = *errorText
	}

	if _, execErr := pool.Exec(ctx, markProcessedSQL, sourceKey, lastModified, rowsIngested, errMsg); execErr != nil {
		return fmt.Errorf("mark processed %s: %w", sourceKey, execErr)
	}
	return nil
}

// ProcessedKeys returns every source key whose latest attempt succeeded.
func (s *Store) ProcessedKeys(ctx context.Context) (map[string]struct{}, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, processedKeysSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list processed keys: %w", queryErr)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys[key] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return keys, nil
}

// LastSuccessfulIngest returns the most recent successful ledger entry,
// or nil when nothing has been ingested yet.
func (s *Store) LastSuccessfulIngest(ctx context.Context) (*LedgerEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, lastSuccessfulIngestSQL)
	entry, scanErr := scanLedgerEntry(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last successful ingest: %w", scanErr)
	}
	return &entry, nil
}

// ListRecentLedger lists the most recent ledger entries, latest first.
func (s *Store) ListRecentLedger(ctx context.Context, limit int) ([]LedgerEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentLedgerSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent ledger: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]LedgerEntry, 0, limit)
	for rows.Next() {
		entry, scanErr := scanLedgerEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// ListRecords lists records for one owner inside a time window, ordered by
// batch_id then descending timestamp so callers can group in one pass.
func (s *Store) ListRecords(ctx context.Context, owner string, start, end time.Time, instrument *string) ([]StatusRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	var queryErr error
	if instrument != nil {
		rows, queryErr = pool.Query(ctx, listRecordsByInstrumentSQL, owner, start, end, *instrument)
	} else {
		rows, queryErr = pool.Query(ctx, listRecordsSQL, owner, start, end)
	}
	if queryErr != nil {
		return nil, fmt.Errorf("list records: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// RecordHistory returns every row for one batch id, newest first.
func (s *Store) RecordHistory(ctx context.Context, batchID string) ([]StatusRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, recordHistorySQL, batchID)
	if queryErr != nil {
		return nil, fmt.Errorf("record history: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// CountRecordsByDay aggregates row counts per UTC day inside [from, to).
func (s *Store) CountRecordsByDay(ctx context.Context, from, to time.Time) ([]DailyCount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, countRecordsByDaySQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("count records by day: %w", queryErr)
	}
	defer rows.Close()

	counts := make([]DailyCount, 0)
	for rows.Next() {
		var count DailyCount
		if err := rows.Scan(&count.Day, &count.Rows); err != nil {
			return nil, err
		}
		counts = append(counts, count)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

func collectRecords(rows pgx.Rows) ([]StatusRecord, error) {
	records := make([]StatusRecord, 0)
	for rows.Next() {
		record, scanErr := scanStatusRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanStatusRecord(rows pgx.Rows) (StatusRecord, error) {
	var (
		record      StatusRecord
		instrument  sql.NullString
		side        sql.NullString
		sizeReq     sql.NullString
		sizeExec    sql.NullString
		notional    sql.NullString
		status      sql.NullString
		duration    sql.NullInt64
		raw         []byte
	)

	if err := rows.Scan(
		&record.BatchID,
		&record.Owner,
		&record.TS,
		&instrument,
		&side,
		&sizeReq,
		&sizeExec,
		&notional,
		&status,
		&duration,
		&record.SourceKey,
		&raw,
		&record.InsertedAt,
	); err != nil {
		return StatusRecord{}, err
	}

	record.Instrument = stringPtr(instrument)
	record.Side = stringPtr(side)
	record.Status = stringPtr(status)

	var err error
	if record.SizeRequested, err = decimalPtr(sizeReq); err != nil {
		return StatusRecord{}, fmt.Errorf("parse size_requested: %w", err)
	}
	if record.SizeExecuted, err = decimalPtr(sizeExec); err != nil {
		return StatusRecord{}, fmt.Errorf("parse size_executed: %w", err)
	}
	if record.NotionalExecuted, err = decimalPtr(notional); err != nil {
		return StatusRecord{}, fmt.Errorf("parse notional_executed: %w", err)
	}

	if duration.Valid {
		value := int(duration.Int64)
		record.DurationMinutes = &value
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &record.Raw); err != nil {
			return StatusRecord{}, fmt.Errorf("decode raw payload: %w", err)
		}
	}

	return record, nil
}

type ledgerScanner interface {
	Scan(dest ...any) error
}

func scanLedgerEntry(row ledgerScanner) (LedgerEntry, error) {
	var (
		entry   LedgerEntry
		errText sql.NullString
	)

	if err := row.Scan(
		&entry.SourceKey,
		&entry.LastModified,
		&entry.RowsIngested,
		&errText,
		&entry.IngestedAt,
	); err != nil {
		return LedgerEntry{}, err
	}

	entry.ErrorText = stringPtr(errText)
	return entry, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	value := v.String
	return &value
}

func decimalPtr(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
