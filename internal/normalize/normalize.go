package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"algo-status-ingest/internal/storage"
)

// ErrUnsupportedTimestamp indicates a timestamp value of a type the
// normalizer cannot interpret.
var ErrUnsupportedTimestamp = errors.New("unsupported timestamp type")

// ParseError indicates a batch file whose content could not be normalized.
// One file is one atomic parse unit: a single bad row fails the whole file.
type ParseError struct {
	SourceKey string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.SourceKey, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Row is one raw source row: the original column order plus a value per
// column. Values are strings for CSV input and json.Number/string/bool for
// NDJSON input, so decimal precision survives decoding.
type Row struct {
	Columns []string
	Values  map[string]any
}

// Fixed mapping from source column names to canonical fields. The key
// columns (batch_id, state_user, state_timestamp) are required per row;
// the rest normalize to null when absent.
const (
	colBatchID          = "batch_id"
	colOwner            = "state_user"
	colTimestamp        = "state_timestamp"
	colInstrument       = "state_coin"
	colSide             = "state_side"
	colSizeRequested    = "state_sz"
	colSizeExecuted     = "state_executedSz"
	colNotionalExecuted = "state_executedNtl"
	colStatus           = "status"
	colDurationMinutes  = "state_minutes"
)

// ParseObject decodes a batch file into canonical records. The decoder is
// chosen by the key's extension: NDJSON for .json/.jsonl/.ndjson, CSV
// otherwise. Any failure aborts the entire file with a *ParseError.
func ParseObject(content []byte, sourceKey string) ([]storage.StatusRecord, error) {
	var (
		rows []Row
		err  error
	)
	if isNDJSONKey(sourceKey) {
		rows, err = decodeNDJSON(content)
	} else {
		rows, err = decodeCSV(content)
	}
	if err != nil {
		return nil, &ParseError{SourceKey: sourceKey, Err: err}
	}

	records := make([]storage.StatusRecord, 0, len(rows))
	for i, row := range rows {
		record, rowErr := NormalizeRow(row, sourceKey)
		if rowErr != nil {
			return nil, &ParseError{SourceKey: sourceKey, Err: fmt.Errorf("row %d: %w", i+1, rowErr)}
		}
		records = append(records, record)
	}
	return records, nil
}

func isNDJSONKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".jsonl") ||
		strings.HasSuffix(lower, ".ndjson")
}

// NormalizeRow maps one raw row into a canonical record. Pure: no I/O, and
// the same input always yields the same (batch_id, owner, ts) identity.
// Rows missing any key column fail; two such rows would otherwise collapse
// onto one degenerate identity and the conflict-ignoring load would drop
// all but the first.
func NormalizeRow(row Row, sourceKey string) (storage.StatusRecord, error) {
	record := storage.StatusRecord{SourceKey: sourceKey}

	v, ok := presentValue(row, colBatchID)
	if !ok {
		return storage.StatusRecord{}, fmt.Errorf("column %s: missing required value", colBatchID)
	}
	record.BatchID = coerceString(v)

	v, ok = presentValue(row, colOwner)
	if !ok {
		return storage.StatusRecord{}, fmt.Errorf("column %s: missing required value", colOwner)
	}
	record.Owner = coerceString(v)

	v, ok = presentValue(row, colTimestamp)
	if !ok {
		return storage.StatusRecord{}, fmt.Errorf("column %s: missing required value", colTimestamp)
	}
	ts, err := NormalizeTimestamp(v)
	if err != nil {
		return storage.StatusRecord{}, fmt.Errorf("column %s: %w", colTimestamp, err)
	}
	record.TS = ts

	if v, ok := presentValue(row, colInstrument); ok {
		value := coerceString(v)
		record.Instrument = &value
	}
	if v, ok := presentValue(row, colSide); ok {
		value := coerceString(v)
		record.Side = &value
	}
	if v, ok := presentValue(row, colStatus); ok {
		value := coerceString(v)
		record.Status = &value
	}

	if record.SizeRequested, err = coerceDecimal(row, colSizeRequested); err != nil {
		return storage.StatusRecord{}, err
	}
	if record.SizeExecuted, err = coerceDecimal(row, colSizeExecuted); err != nil {
		return storage.StatusRecord{}, err
	}
	if record.NotionalExecuted, err = coerceDecimal(row, colNotionalExecuted); err != nil {
		return storage.StatusRecord{}, err
	}

	if v, ok := presentValue(row, colDurationMinutes); ok {
		minutes, convErr := coerceInt(v)
		if convErr != nil {
			return storage.StatusRecord{}, fmt.Errorf("column %s: %w", colDurationMinutes, convErr)
		}
		record.DurationMinutes = &minutes
	}

	record.Raw = rawPayload(row)
	return record, nil
}

// presentValue returns the value for a column, reporting false when the
// column is absent or holds a not-available sentinel.
func presentValue(row Row, column string) (any, bool) {
	v, ok := row.Values[column]
	if !ok || isMissing(v) {
		return nil, false
	}
	return v, true
}

// isMissing detects source not-available sentinels: absent values, empty
// strings, NaN markers, and float NaN.
func isMissing(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return true
		}
		lower := strings.ToLower(trimmed)
		return lower == "nan" || lower == "null"
	case float64:
		return math.IsNaN(value)
	}
	return false
}

func coerceString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

func coerceDecimal(row Row, column string) (*decimal.Decimal, error) {
	v, ok := presentValue(row, column)
	if !ok {
		return nil, nil
	}

	var (
		value decimal.Decimal
		err   error
	)
	switch typed := v.(type) {
	case string:
		value, err = decimal.NewFromString(strings.TrimSpace(typed))
	case json.Number:
		value, err = decimal.NewFromString(typed.String())
	case float64:
		value = decimal.NewFromFloat(typed)
	case int:
		value = decimal.NewFromInt(int64(typed))
	case int64:
		value = decimal.NewFromInt(typed)
	default:
		err = fmt.Errorf("cannot coerce %T to decimal", v)
	}
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", column, err)
	}
	return &value, nil
}

func coerceInt(v any) (int, error) {
	switch typed := v.(type) {
	case int:
		return typed, nil
	case int64:
		return int(typed), nil
	case float64:
		return int(typed), nil
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return int(i), nil
		}
		f, err := typed.Float64()
		if err != nil {
			return 0, err
		}
		return int(f), nil
	case string:
		trimmed := strings.TrimSpace(typed)
		if i, err := strconv.Atoi(trimmed); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, err
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to integer", v)
	}
}

// timestampLayouts are tried in order for string timestamps. Layouts
// without a zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp converts a raw timestamp value to a UTC instant.
// Accepted inputs: time.Time, a date-time string, or a numeric Unix
// timestamp in seconds (fractional seconds allowed). Anything else fails
// with ErrUnsupportedTimestamp.
func NormalizeTimestamp(v any) (time.Time, error) {
	switch typed := v.(type) {
	case time.Time:
		return typed.UTC(), nil
	case string:
		return parseTimestampString(strings.TrimSpace(typed))
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp %q: %w", typed.String(), err)
		}
		return unixSeconds(f), nil
	case float64:
		return unixSeconds(typed), nil
	case int:
		return time.Unix(int64(typed), 0).UTC(), nil
	case int64:
		return time.Unix(typed, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %T", ErrUnsupportedTimestamp, v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	// Purely numeric strings are Unix seconds; this never collides with the
	// layout list because none of the layouts match a bare number.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixSeconds(f), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func unixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// rawPayload copies every original column for the audit copy, with
// sentinels replaced by null and native timestamps serialized to ISO-8601.
func rawPayload(row Row) map[string]any {
	if len(row.Values) == 0 && len(row.Columns) == 0 {
		return nil
	}

	payload := make(map[string]any, len(row.Values))
	columns := row.Columns
	if len(columns) == 0 {
		for column := range row.Values {
			columns = append(columns, column)
		}
	}

	for _, column := range columns {
		v, ok := row.Values[column]
		if !ok || isMissing(v) {
			payload[column] = nil
			continue
		}
		if ts, isTime := v.(time.Time); isTime {
			payload[column] = ts.UTC().Format(time.RFC3339Nano)
			continue
		}
		payload[column] = v
	}
	return payload
}
