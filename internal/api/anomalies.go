package api

import (
	"net/http"

	"github.com/nerrad567/coldwatch-core/internal/store"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// handleListAnomalies returns persisted anomaly events, newest first.
// Query parameters: device_id, type, min_severity, start, end, limit.
func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AnomalyFilter{
		DeviceID: q.Get("device_id"),
		Type:     telemetry.AnomalyType(q.Get("type")),
	}

	if v := q.Get("min_severity"); v != "" {
		sev, err := telemetry.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		f.MinSeverity = sev
	}

	var err error
	if f.Start, err = parseTime(q.Get("start")); err != nil {
		writeBadRequest(w, "start must be RFC 3339")
		return
	}
	if f.End, err = parseTime(q.Get("end")); err != nil {
		writeBadRequest(w, "end must be RFC 3339")
		return
	}
	if f.Limit, err = parseLimit(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	events, err := s.store.QueryAnomalies(r.Context(), f)
	if err != nil {
		s.logger.Error("querying anomalies failed", "error", err)
		writeInternalError(w, "failed to query anomalies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": events,
		"count":     len(events),
	})
}
