package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// readingRow is the readings table layout. Timestamps are unix nanoseconds.
type readingRow struct {
	DeviceID    string  `db:"device_id"`
	TS          int64   `db:"ts"`
	Temperature float64 `db:"temperature"`
	VibX        float64 `db:"vib_x"`
	VibY        float64 `db:"vib_y"`
	VibZ        float64 `db:"vib_z"`
	Power       float64 `db:"power"`
	AudioLevel  float64 `db:"audio_level"`
	Quality     float64 `db:"quality"`
}

func toReadingRow(r telemetry.Reading) readingRow {
	return readingRow{
		DeviceID:    r.DeviceID,
		TS:          r.Timestamp.UnixNano(),
		Temperature: r.Temperature,
		VibX:        r.Vibration.X,
		VibY:        r.Vibration.Y,
		VibZ:        r.Vibration.Z,
		Power:       r.PowerConsumption,
		AudioLevel:  r.AudioLevel,
		Quality:     r.Quality,
	}
}

func (row readingRow) reading() telemetry.Reading {
	return telemetry.Reading{
		DeviceID:         row.DeviceID,
		Timestamp:        time.Unix(0, row.TS).UTC(),
		Temperature:      row.Temperature,
		Vibration:        telemetry.Vibration{X: row.VibX, Y: row.VibY, Z: row.VibZ},
		PowerConsumption: row.Power,
		AudioLevel:       row.AudioLevel,
		Quality:          row.Quality,
	}
}

// anomalyRow is the anomalies table layout.
type anomalyRow struct {
	ID          string  `db:"id"`
	DeviceID    string  `db:"device_id"`
	TS          int64   `db:"ts"`
	Type        string  `db:"anomaly_type"`
	Severity    string  `db:"severity"`
	Confidence  float64 `db:"confidence"`
	Description string  `db:"description"`
	Reading     string  `db:"reading"`
}

func toAnomalyRow(ev telemetry.AnomalyEvent) (anomalyRow, error) {
	src, err := json.Marshal(ev.SourceReading)
	if err != nil {
		return anomalyRow{}, fmt.Errorf("encoding source reading: %w", err)
	}
	return anomalyRow{
		ID:          ev.ID,
		DeviceID:    ev.DeviceID,
		TS:          ev.Timestamp.UnixNano(),
		Type:        string(ev.Type),
		Severity:    string(ev.Severity),
		Confidence:  ev.Confidence,
		Description: ev.Description,
		Reading:     string(src),
	}, nil
}

func (row anomalyRow) event() (telemetry.AnomalyEvent, error) {
	ev := telemetry.AnomalyEvent{
		ID:          row.ID,
		DeviceID:    row.DeviceID,
		Timestamp:   time.Unix(0, row.TS).UTC(),
		Type:        telemetry.AnomalyType(row.Type),
		Severity:    telemetry.Severity(row.Severity),
		Confidence:  row.Confidence,
		Description: row.Description,
	}
	if err := json.Unmarshal([]byte(row.Reading), &ev.SourceReading); err != nil {
		return ev, fmt.Errorf("decoding source reading of anomaly %s: %w", row.ID, err)
	}
	return ev, nil
}

// DeviceRecord is one row of the device catalogue.
type DeviceRecord struct {
	ID            string           `json:"id"`
	Addr          string           `json:"addr,omitempty"`
	SampleRate    int              `json:"sample_rate,omitempty"`
	Status        telemetry.Status `json:"status"`
	OverallHealth float64          `json:"overall_health"`
	FirstSeen     time.Time        `json:"first_seen"`
	LastSeen      time.Time        `json:"last_seen"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type deviceRow struct {
	ID            string  `db:"id"`
	Addr          string  `db:"addr"`
	SampleRate    int     `db:"sample_rate"`
	Status        string  `db:"status"`
	OverallHealth float64 `db:"overall_health"`
	FirstSeen     int64   `db:"first_seen"`
	LastSeen      int64   `db:"last_seen"`
	UpdatedAt     int64   `db:"updated_at"`
}

func (row deviceRow) record() DeviceRecord {
	return DeviceRecord{
		ID:            row.ID,
		Addr:          row.Addr,
		SampleRate:    row.SampleRate,
		Status:        telemetry.Status(row.Status),
		OverallHealth: row.OverallHealth,
		FirstSeen:     time.Unix(0, row.FirstSeen).UTC(),
		LastSeen:      time.Unix(0, row.LastSeen).UTC(),
		UpdatedAt:     time.Unix(0, row.UpdatedAt).UTC(),
	}
}
