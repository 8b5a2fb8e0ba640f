package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Measurement names written by the mirror.
const (
	MeasurementReadings  = "compressor_readings"
	MeasurementAnomalies = "compressor_anomalies"
	MeasurementHealth    = "compressor_health"
)

// WriteReading mirrors a committed sensor reading at its device timestamp.
func (c *Client) WriteReading(r telemetry.Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(r))
}

// WriteAnomaly mirrors a persisted anomaly event.
func (c *Client) WriteAnomaly(ev telemetry.AnomalyEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(anomalyPoint(ev))
}

// WriteHealth records a device health transition so status history can be
// graphed next to the raw readings.
func (c *Client) WriteHealth(h telemetry.DeviceHealth) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(healthPoint(h))
}

func readingPoint(r telemetry.Reading) *write.Point {
	return write.NewPoint(
		MeasurementReadings,
		map[string]string{"device_id": r.DeviceID},
		map[string]interface{}{
			"temperature":         r.Temperature,
			"vibration_x":         r.Vibration.X,
			"vibration_y":         r.Vibration.Y,
			"vibration_z":         r.Vibration.Z,
			"vibration_magnitude": r.Vibration.Magnitude(),
			"power_consumption":   r.PowerConsumption,
			"audio_level":         r.AudioLevel,
			"quality":             r.Quality,
		},
		r.Timestamp,
	)
}

func anomalyPoint(ev telemetry.AnomalyEvent) *write.Point {
	return write.NewPoint(
		MeasurementAnomalies,
		map[string]string{
			"device_id":    ev.DeviceID,
			"anomaly_type": string(ev.Type),
			"severity":     string(ev.Severity),
		},
		map[string]interface{}{
			"id":          ev.ID,
			"confidence":  ev.Confidence,
			"description": ev.Description,
		},
		ev.Timestamp,
	)
}

func healthPoint(h telemetry.DeviceHealth) *write.Point {
	return write.NewPoint(
		MeasurementHealth,
		map[string]string{
			"device_id": h.DeviceID,
			"status":    string(h.Status),
		},
		map[string]interface{}{
			"overall_health":     h.OverallHealth,
			"anomaly_count":      h.AnomalyCount,
			"open_anomalies":     len(h.OpenAnomalies),
			"temperature_status": string(h.Channels.Temperature),
			"vibration_status":   string(h.Channels.Vibration),
			"power_status":       string(h.Channels.Power),
			"audio_status":       string(h.Channels.Audio),
		},
		h.UpdatedAt,
	)
}
