package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/coldwatch-core/internal/ingest"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Ingestion headers.
const (
	headerDeviceID   = "X-Device-ID"
	headerSampleRate = "X-Sample-Rate"
	headerPriority   = "X-Priority"
)

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	DeviceID string `json:"device_id,omitempty"`
	Samples  int    `json:"samples,omitempty"`
}

// handleIngestAudio queues one raw little-endian int16 PCM chunk.
func (s *Server) handleIngestAudio(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(headerDeviceID)
	if !s.authorizeDevice(w, r, deviceID) {
		return
	}

	rate, err := strconv.Atoi(r.Header.Get(headerSampleRate))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, headerSampleRate+" must be an integer")
		return
	}
	prio, err := ingest.ParsePriority(r.Header.Get(headerPriority))
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "audio chunk too large")
			return
		}
		writeBadRequest(w, "reading body failed")
		return
	}

	if _, err := s.gateway.Submit(deviceID, raw, rate, prio); err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Accepted: 1,
		DeviceID: deviceID,
		Samples:  len(raw) / telemetry.BytesPerSample,
	})
}

// handleIngestReadings queues a JSON reading or an array of readings.
// Readings are validated and queued in order; the first failure stops the
// batch and the response reports how many were accepted before it.
func (s *Server) handleIngestReadings(w http.ResponseWriter, r *http.Request) {
	prio, err := ingest.ParsePriority(r.Header.Get(headerPriority))
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	readings, err := decodeReadings(r.Body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	for _, reading := range readings {
		if !s.authorizeDevice(w, r, reading.DeviceID) {
			return
		}
	}

	for i, reading := range readings {
		if _, err := s.gateway.SubmitReading(reading, prio); err != nil {
			if i > 0 {
				w.Header().Set("X-Accepted-Count", strconv.Itoa(i))
			}
			writeSubmitError(w, fmt.Errorf("reading %d: %w", i, err))
			return
		}
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: len(readings)})
}

func decodeReadings(body io.Reader) ([]telemetry.Reading, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading body failed")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if data[0] == '[' {
		var readings []telemetry.Reading
		if err := json.Unmarshal(data, &readings); err != nil {
			return nil, fmt.Errorf("invalid JSON body")
		}
		if len(readings) == 0 {
			return nil, fmt.Errorf("empty reading array")
		}
		return readings, nil
	}

	var reading telemetry.Reading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	return []telemetry.Reading{reading}, nil
}
