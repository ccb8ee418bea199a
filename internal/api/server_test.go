package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-status-ingest/internal/config"
	"algo-status-ingest/internal/storage"
)

type fakeStore struct {
	records []storage.StatusRecord
	history []storage.StatusRecord
	last    *storage.LedgerEntry
	pingErr error
	listErr error
}

func (f *fakeStore) ListRecords(ctx context.Context, owner string, start, end time.Time, instrument *string) ([]storage.StatusRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records, nil
}

func (f *fakeStore) RecordHistory(ctx context.Context, batchID string) ([]storage.StatusRecord, error) {
	return f.history, nil
}

func (f *fakeStore) LastSuccessfulIngest(ctx context.Context) (*storage.LedgerEntry, error) {
	return f.last, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func testServer(store Store) *Server {
	cfg := config.APIConfig{DefaultLimit: 500, MaxLimit: 5000}
	return NewServer(store, cfg, zerolog.Nop())
}

func statusRecord(batchID, owner string, ts time.Time, size string) storage.StatusRecord {
	sz := decimal.RequireFromString(size)
	return storage.StatusRecord{
		BatchID:       batchID,
		Owner:         owner,
		TS:            ts,
		SizeRequested: &sz,
		SourceKey:     "raw/k1.csv",
	}
}

// Rows as the repository returns them: ordered by batch_id, then ts desc.
func sampleRows() []storage.StatusRecord {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return []storage.StatusRecord{
		statusRecord("b-1", "0xabc", base.Add(10*time.Minute), "10"),
		statusRecord("b-1", "0xabc", base.Add(5*time.Minute), "10"),
		statusRecord("b-1", "0xabc", base, "10"),
		statusRecord("b-2", "0xabc", base, "1"),
		statusRecord("b-3", "0xabc", base, "2"),
	}
}

func doRequest(t *testing.T, server *Server, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestListRecordsLatestPerBatch(t *testing.T) {
	server := testServer(&fakeStore{records: sampleRows()})

	recorder := doRequest(t, server, "/api/v1/records?owner=0xabc&start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response RecordsResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	require.Equal(t, 3, response.Count)
	assert.Equal(t, "b-1", response.Records[0].BatchID)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 10, 0, 0, time.UTC), response.Records[0].LatestTS)
	require.NotNil(t, response.Records[0].Latest.SizeRequested)
	assert.Equal(t, "10", *response.Records[0].Latest.SizeRequested)
	assert.Empty(t, response.Records[0].Rows, "latest-only omits history")
}

func TestListRecordsFullHistory(t *testing.T) {
	server := testServer(&fakeStore{records: sampleRows()})

	recorder := doRequest(t, server, "/api/v1/records?owner=0xabc&start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z&latest_only=false")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response RecordsResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	require.Equal(t, 3, response.Count)
	assert.Len(t, response.Records[0].Rows, 3, "full history for the 3-update batch")
	assert.Len(t, response.Records[1].Rows, 1)
}

func TestListRecordsPagination(t *testing.T) {
	server := testServer(&fakeStore{records: sampleRows()})

	recorder := doRequest(t, server, "/api/v1/records?owner=0xabc&start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z&limit=1&offset=1")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response RecordsResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Equal(t, 1, response.Count)
	assert.Equal(t, "b-2", response.Records[0].BatchID)
}

func TestListRecordsValidation(t *testing.T) {
	server := testServer(&fakeStore{})

	cases := []string{
		"/api/v1/records?start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z",
		"/api/v1/records?owner=o&start=bogus&end=2026-05-02T00:00:00Z",
		"/api/v1/records?owner=o&start=2026-05-02T00:00:00Z&end=2026-05-01T00:00:00Z",
		"/api/v1/records?owner=o&start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z&limit=-1",
		"/api/v1/records?owner=o&start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z&latest_only=maybe",
	}
	for _, url := range cases {
		recorder := doRequest(t, server, url)
		assert.Equal(t, http.StatusBadRequest, recorder.Code, url)
	}
}

func TestListRecordsStoreError(t *testing.T) {
	server := testServer(&fakeStore{listErr: errors.New("boom")})

	recorder := doRequest(t, server, "/api/v1/records?owner=o&start=2026-05-01T00:00:00Z&end=2026-05-02T00:00:00Z")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestRecordDetail(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	history := []storage.StatusRecord{
		statusRecord("b-1", "0xabc", base.Add(10*time.Minute), "10"),
		statusRecord("b-1", "0xabc", base.Add(5*time.Minute), "10"),
		statusRecord("b-1", "0xabc", base, "10"),
	}
	server := testServer(&fakeStore{history: history})

	recorder := doRequest(t, server, "/api/v1/records/b-1")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response DetailResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "b-1", response.BatchID)
	require.Len(t, response.Rows, 3)
	assert.True(t, response.Rows[0].TS.After(response.Rows[1].TS), "newest first")
	assert.True(t, response.Rows[1].TS.After(response.Rows[2].TS))
}

func TestRecordDetailNotFound(t *testing.T) {
	server := testServer(&fakeStore{})

	recorder := doRequest(t, server, "/api/v1/records/missing")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHealth(t *testing.T) {
	ingestedAt := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	server := testServer(&fakeStore{last: &storage.LedgerEntry{
		SourceKey:  "raw/k9.csv",
		IngestedAt: ingestedAt,
	}})

	recorder := doRequest(t, server, "/health")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "connected", response.Database)
	require.NotNil(t, response.LastIngestedKey)
	assert.Equal(t, "raw/k9.csv", *response.LastIngestedKey)
}

func TestHealthDegraded(t *testing.T) {
	server := testServer(&fakeStore{pingErr: errors.New("connection refused")})

	recorder := doRequest(t, server, "/health")
	require.Equal(t, http.StatusOK, recorder.Code)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "degraded", response.Status)
	assert.Contains(t, response.Database, "connection refused")
}
