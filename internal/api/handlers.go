package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"algo-status-ingest/internal/storage"
)

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	owner := query.Get("owner")
	if owner == "" {
		s.writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	start, err := parseInstant(query.Get("start"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start: %v", err))
		return
	}
	end, err := parseInstant(query.Get("end"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end: %v", err))
		return
	}
	if !start.Before(end) {
		s.writeError(w, http.StatusBadRequest, "start must be before end")
		return
	}

	var instrument *string
	if v := query.Get("instrument"); v != "" {
		instrument = &v
	}

	latestOnly := true
	if v := query.Get("latest_only"); v != "" {
		parsed, parseErr := strconv.ParseBool(v)
		if parseErr != nil {
			s.writeError(w, http.StatusBadRequest, "invalid latest_only")
			return
		}
		latestOnly = parsed
	}

	limit, err := s.parseLimit(query.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOffset(query.Get("offset"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.store.ListRecords(r.Context(), owner, start, end, instrument)
	if err != nil {
		s.logger.Error().Err(err).Msg("list records query failed")
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	groups := groupRecords(rows, latestOnly)
	groups = paginateGroups(groups, offset, limit)

	s.writeJSON(w, http.StatusOK, RecordsResponse{
		Owner:   owner,
		Start:   start,
		End:     end,
		Count:   len(groups),
		Records: groups,
	})
}

func (s *Server) handleRecordDetail(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	rows, err := s.store.RecordHistory(r.Context(), batchID)
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("record history query failed")
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if len(rows) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("batch id %s not found", batchID))
		return
	}

	views := make([]RecordView, 0, len(rows))
	for _, row := range rows {
		views = append(views, recordView(row))
	}

	s.writeJSON(w, http.StatusOK, DetailResponse{BatchID: batchID, Rows: views})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy", Database: "connected"}

	if err := s.store.Ping(r.Context()); err != nil {
		response.Status = "degraded"
		response.Database = fmt.Sprintf("error: %v", err)
		s.writeJSON(w, http.StatusOK, response)
		return
	}

	last, err := s.store.LastSuccessfulIngest(r.Context())
	if err != nil {
		response.Status = "degraded"
		response.Database = fmt.Sprintf("error: %v", err)
	} else if last != nil {
		response.LastIngestedKey = &last.SourceKey
		response.LastIngestedAt = &last.IngestedAt
	}

	s.writeJSON(w, http.StatusOK, response)
}

// groupRecords folds rows (ordered by batch_id, ts desc) into per-batch
// groups. With latestOnly each group carries only its newest row; otherwise
// the full history rides along under rows.
func groupRecords(rows []storage.StatusRecord, latestOnly bool) []RecordGroup {
	groups := make([]RecordGroup, 0)
	for _, row := range rows {
		if n := len(groups); n > 0 && groups[n-1].BatchID == row.BatchID {
			if !latestOnly {
				groups[n-1].Rows = append(groups[n-1].Rows, recordView(row))
			}
			continue
		}

		group := RecordGroup{
			BatchID:  row.BatchID,
			LatestTS: row.TS,
			Latest:   recordView(row),
		}
		if !latestOnly {
			group.Rows = []RecordView{recordView(row)}
		}
		groups = append(groups, group)
	}
	return groups
}

func paginateGroups(groups []RecordGroup, offset, limit int) []RecordGroup {
	if offset >= len(groups) {
		return []RecordGroup{}
	}
	groups = groups[offset:]
	if limit < len(groups) {
		groups = groups[:limit]
	}
	return groups
}

func parseInstant(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func (s *Server) parseLimit(v string) (int, error) {
	if v == "" {
		return s.cfg.DefaultLimit, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	return limit, nil
}

func parseOffset(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(v)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid offset")
	}
	return offset, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
