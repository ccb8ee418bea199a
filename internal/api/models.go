package api

import (
	"time"

	"github.com/shopspring/decimal"

	"algo-status-ingest/internal/storage"
)

// RecordView is the JSON shape of one status row. Decimal fields render as
// strings so precision is never lost in transport.
type RecordView struct {
	BatchID          string         `json:"batch_id"`
	Owner            string         `json:"owner"`
	TS               time.Time      `json:"ts"`
	Instrument       *string        `json:"instrument"`
	Side             *string        `json:"side"`
	SizeRequested    *string        `json:"size_requested"`
	SizeExecuted     *string        `json:"size_executed"`
	NotionalExecuted *string        `json:"notional_executed"`
	Status           *string        `json:"status"`
	DurationMinutes  *int           `json:"duration_minutes"`
	SourceKey        string         `json:"source_key"`
	Raw              map[string]any `json:"raw"`
}

// RecordGroup bundles one batch-execution instance. Rows carries the full
// history only when the caller asked for it.
type RecordGroup struct {
	BatchID  string       `json:"batch_id"`
	LatestTS time.Time    `json:"latest_ts"`
	Latest   RecordView   `json:"latest"`
	Rows     []RecordView `json:"rows,omitempty"`
}

// RecordsResponse answers GET /api/v1/records.
type RecordsResponse struct {
	Owner   string        `json:"owner"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Count   int           `json:"count"`
	Records []RecordGroup `json:"records"`
}

// DetailResponse answers GET /api/v1/records/{batchID}.
type DetailResponse struct {
	BatchID string       `json:"batch_id"`
	Rows    []RecordView `json:"rows"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status          string     `json:"status"`
	Database        string     `json:"database"`
	LastIngestedKey *string    `json:"last_ingested_key"`
	LastIngestedAt  *time.Time `json:"last_ingested_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func recordView(rec storage.StatusRecord) RecordView {
	return RecordView{
		BatchID:          rec.BatchID,
		Owner:            rec.Owner,
		TS:               rec.TS,
		Instrument:       rec.Instrument,
		Side:             rec.Side,
		SizeRequested:    decimalString(rec.SizeRequested),
		SizeExecuted:     decimalString(rec.SizeExecuted),
		NotionalExecuted: decimalString(rec.NotionalExecuted),
		Status:           rec.Status,
		DurationMinutes:  rec.DurationMinutes,
		SourceKey:        rec.SourceKey,
		Raw:              rec.Raw,
	}
}

func decimalString(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
