package influxdb

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

func pointTags(p *write.Point) map[string]string {
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	return tags
}

func pointFields(p *write.Point) map[string]any {
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReadingPoint(t *testing.T) {
	p := readingPoint(telemetry.Reading{
		DeviceID:         "comp-1",
		Timestamp:        ts,
		Temperature:      -18.5,
		Vibration:        telemetry.Vibration{X: 3, Y: 4},
		PowerConsumption: 52,
		AudioLevel:       1200,
		Quality:          0.9,
	})

	if p.Name() != MeasurementReadings || !p.Time().Equal(ts) {
		t.Errorf("point = %s at %v", p.Name(), p.Time())
	}
	if tags := pointTags(p); tags["device_id"] != "comp-1" || len(tags) != 1 {
		t.Errorf("tags = %v", tags)
	}
	fields := pointFields(p)
	if fields["temperature"] != -18.5 || fields["vibration_magnitude"] != 5.0 || fields["quality"] != 0.9 {
		t.Errorf("fields = %v", fields)
	}
}

func TestAnomalyPoint(t *testing.T) {
	ev := telemetry.AnomalyEvent{
		ID:          "a-1",
		DeviceID:    "comp-1",
		Timestamp:   ts,
		Type:        telemetry.AnomalyPowerCritical,
		Severity:    telemetry.SeverityCritical,
		Confidence:  0.95,
		Description: "power draw critical",
	}
	p := anomalyPoint(ev)

	tags := pointTags(p)
	if tags["anomaly_type"] != "power_critical" || tags["severity"] != "critical" {
		t.Errorf("tags = %v", tags)
	}
	if fields := pointFields(p); fields["id"] != "a-1" || fields["confidence"] != 0.95 {
		t.Errorf("fields = %v", fields)
	}
}

func TestHealthPoint(t *testing.T) {
	p := healthPoint(telemetry.DeviceHealth{
		DeviceID:      "comp-1",
		Status:        telemetry.StatusWarning,
		Channels:      telemetry.Channels{Temperature: telemetry.StatusWarning, Vibration: telemetry.StatusNormal},
		OverallHealth: 72.5,
		AnomalyCount:  3,
		OpenAnomalies: []telemetry.AnomalyType{telemetry.AnomalyTemperatureWarning},
		UpdatedAt:     ts,
	})

	if p.Name() != MeasurementHealth || pointTags(p)["status"] != "warning" {
		t.Errorf("point = %s tags %v", p.Name(), pointTags(p))
	}
	fields := pointFields(p)
	if fields["overall_health"] != 72.5 || fields["anomaly_count"] != int64(3) || fields["temperature_status"] != "warning" {
		t.Errorf("fields = %v", fields)
	}
}

func TestBatchSettingsDefaults(t *testing.T) {
	tests := []struct {
		batch, flush         int
		wantBatch, wantFlush int
	}{
		{0, 0, defaultBatchSize, defaultFlushInterval},
		{-5, -1, defaultBatchSize, defaultFlushInterval},
		{500, 2, 500, 2},
	}
	for _, tt := range tests {
		gotBatch, gotFlush := batchSettings(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
		if gotBatch != tt.wantBatch || gotFlush != tt.wantFlush {
			t.Errorf("batchSettings(%d, %d) = %d, %d", tt.batch, tt.flush, gotBatch, gotFlush)
		}
	}
}
