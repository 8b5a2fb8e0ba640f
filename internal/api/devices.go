package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/coldwatch-core/internal/audit"
	"github.com/nerrad567/coldwatch-core/internal/store"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// registerRequest is the body of POST /api/v1/devices.
type registerRequest struct {
	DeviceID   string `json:"device_id"`
	Addr       string `json:"addr"`
	SampleRate int    `json:"sample_rate"`
}

// handleRegisterDevice adds a device to the catalogue and the gateway's
// registry. Re-registering updates the address and sample rate.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := telemetry.ValidateDeviceID(req.DeviceID); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if !s.authorizeDevice(w, r, req.DeviceID) {
		return
	}

	if err := s.store.RegisterDevice(r.Context(), req.DeviceID, req.Addr, req.SampleRate); err != nil {
		s.logger.Error("registering device failed", "device_id", req.DeviceID, "error", err)
		writeInternalError(w, "failed to register device")
		return
	}
	s.gateway.Registry().RegisterDevice(req.DeviceID, req.Addr, req.SampleRate)
	s.recordAudit(r, audit.Entry{
		Action:   audit.ActionDeviceRegistered,
		DeviceID: req.DeviceID,
		Source:   audit.SourceAPI,
		Details:  map[string]any{"addr": req.Addr, "sample_rate": req.SampleRate},
	})

	rec, err := s.store.GetDevice(r.Context(), req.DeviceID)
	if err != nil {
		writeInternalError(w, "failed to load device")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleListDevices returns the device catalogue ordered by ID.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one catalogue entry.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetDevice(r.Context(), id)
	if errors.Is(err, store.ErrDeviceNotFound) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to load device")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeviceHealth returns the tracker's live health snapshot.
func (s *Server) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h, ok, err := s.tracker.Health(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "health tracker unavailable")
		return
	}
	if !ok {
		writeNotFound(w, "no health data for device")
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// handleDeviceReadings returns stored readings in ascending time order.
// Query parameters: start, end (RFC 3339) and limit.
func (s *Server) handleDeviceReadings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()

	start, err := parseTime(q.Get("start"))
	if err != nil {
		writeBadRequest(w, "start must be RFC 3339")
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		writeBadRequest(w, "end must be RFC 3339")
		return
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	readings, err := s.store.Query(r.Context(), id, start, end, limit)
	if err != nil {
		s.logger.Error("querying readings failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to query readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"readings":  readings,
		"count":     len(readings),
	})
}

// handleDeviceRecent returns the broadcaster's in-memory recent readings.
func (s *Server) handleDeviceRecent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	readings, err := s.hub.GetRecent(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "broadcaster unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"readings":  readings,
		"count":     len(readings),
	})
}

// parseTime parses an optional RFC 3339 timestamp; "" is the zero time.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

// parseLimit parses an optional positive limit; "" is 0 (component default).
func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}
