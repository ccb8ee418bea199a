package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusRecord is one status snapshot of one batch-execution instance.
// The (BatchID, Owner, TS) triple is the natural key; rows are append-only
// and never updated in place.
type StatusRecord struct {
	BatchID          string
	Owner            string
	TS               time.Time
	Instrument       *string
	Side             *string
	SizeRequested    *decimal.Decimal
	SizeExecuted     *decimal.Decimal
	NotionalExecuted *decimal.Decimal
	Status           *string
	DurationMinutes  *int
	SourceKey        string
	Raw              map[string]any
	InsertedAt       time.Time
}

// LedgerEntry records the latest processing outcome for one source file.
// A nil ErrorText means the file was ingested successfully.
type LedgerEntry struct {
	SourceKey    string
	LastModified time.Time
	RowsIngested int64
	ErrorText    *string
	IngestedAt   time.Time
}

// DailyCount aggregates ingested rows per UTC day.
type DailyCount struct {
	Day  time.Time
	Rows int64
}
