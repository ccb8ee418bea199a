package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRecordInsert(t *testing.T) {
	sql := buildRecordInsert(1)
	assert.True(t, strings.HasPrefix(sql, "INSERT INTO status_records"))
	assert.Contains(t, sql, "($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)")
	assert.True(t, strings.HasSuffix(sql, "ON CONFLICT (batch_id, owner, ts) DO NOTHING;"))

	sql = buildRecordInsert(3)
	assert.Equal(t, 2, strings.Count(sql, "),("), "three value tuples")
	assert.Contains(t, sql, "($13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)")
	assert.Contains(t, sql, "$36)")
	assert.NotContains(t, sql, "$37")
}

func TestRecordArgs(t *testing.T) {
	ts := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	size := decimal.RequireFromString("1.500000000000000001")
	instrument := "ETH"

	rec := StatusRecord{
		BatchID:       "b-1",
		Owner:         "0xabc",
		TS:            ts,
		Instrument:    &instrument,
		SizeRequested: &size,
		SourceKey:     "raw/file1.csv",
		Raw:           map[string]any{"batch_id": "b-1", "state_sz": "1.500000000000000001"},
	}

	args, err := recordArgs(rec)
	require.NoError(t, err)
	require.Len(t, args, recordInsertParams)

	assert.Equal(t, "b-1", args[0])
	assert.Equal(t, "0xabc", args[1])
	assert.Equal(t, ts, args[2])
	assert.Equal(t, "ETH", args[3])
	assert.Nil(t, args[4], "absent side stays NULL")
	// Decimal travels as its exact string form, never through a float.
	assert.Equal(t, "1.500000000000000001", args[5])
	assert.Nil(t, args[6])
	assert.Nil(t, args[9], "absent duration stays NULL")
	assert.Equal(t, "raw/file1.csv", args[10])

	var raw map[string]any
	require.NoError(t, json.Unmarshal(args[11].([]byte), &raw))
	assert.Equal(t, "1.500000000000000001", raw["state_sz"])
}

func TestRecordArgsNilRaw(t *testing.T) {
	args, err := recordArgs(StatusRecord{BatchID: "b", Owner: "o", TS: time.Now()})
	require.NoError(t, err)
	assert.Nil(t, args[11])
}

func TestNewStoreBatchSizeFallback(t *testing.T) {
	store := NewStore(nil, 0)
	assert.Equal(t, DefaultBatchSize, store.batchSize)

	store = NewStore(nil, 25)
	assert.Equal(t, 25, store.batchSize)
}

func TestStoreNotConfigured(t *testing.T) {
	var store *Store
	_, err := store.getPool()
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewStore(nil, 0).getPool()
	assert.ErrorIs(t, err, ErrNotConfigured)
}
