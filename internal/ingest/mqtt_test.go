package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// sensorPayload is a flat sensor message as a device publishes it.
type sensorPayload struct {
	telemetry.Reading
	Priority string `json:"priority,omitempty"`
}

func telemetryPayload(t *testing.T, msg any) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestTelemetryHandlerSubmitsReadings(t *testing.T) {
	rec := &recorder{}
	g := NewGateway(Config{Workers: 1}, nil, rec)
	g.Start(context.Background())
	handle := g.TelemetryHandler()

	r := sensorReading("", 0)
	if err := handle("coldwatch/telemetry/comp-9", telemetryPayload(t, sensorPayload{Reading: r, Priority: "urgent"})); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	audio := telemetryMessage{Audio: pcm(400, 1000), SampleRate: 16000}
	if err := handle("coldwatch/telemetry/comp-9", telemetryPayload(t, audio)); err != nil {
		t.Fatalf("handler audio error = %v", err)
	}
	stop(t, g)

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("processed %d messages, want 2", len(got))
	}
	if got[0].Reading.DeviceID != "comp-9" || got[0].Priority != PriorityUrgent {
		t.Errorf("first = %+v, want comp-9 at urgent", got[0])
	}
	if got[1].Reading.AudioLevel <= 0 {
		t.Errorf("audio chunk level = %v, want > 0", got[1].Reading.AudioLevel)
	}
}

func TestTelemetryHandlerRejects(t *testing.T) {
	g := NewGateway(Config{Workers: 1}, nil, &recorder{})
	handle := g.TelemetryHandler()

	mismatch := sensorReading("comp-2", 0)
	tests := []struct {
		name    string
		topic   string
		payload []byte
	}{
		{"bad topic", "coldwatch/alert/comp-1", []byte(`{}`)},
		{"bad json", "coldwatch/telemetry/comp-1", []byte(`{"temperature":`)},
		{"device mismatch", "coldwatch/telemetry/comp-1", telemetryPayload(t, sensorPayload{Reading: mismatch})},
		{"bad priority", "coldwatch/telemetry/comp-1", telemetryPayload(t, sensorPayload{Reading: sensorReading("", 0), Priority: "whenever"})},
		{"bad reading", "coldwatch/telemetry/comp-1", []byte(`{"quality": 3}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := handle(tt.topic, tt.payload); !errors.Is(err, telemetry.ErrInvalidReading) {
				t.Errorf("handler error = %v, want ErrInvalidReading", err)
			}
		})
	}
}

func TestTelemetryHandlerDropsUnderBackpressure(t *testing.T) {
	g := NewGateway(Config{Workers: 1, QueueCapacity: 1}, nil, &recorder{})
	handle := g.TelemetryHandler()

	for i := range 3 {
		payload := telemetryPayload(t, sensorPayload{Reading: sensorReading("", i)})
		if err := handle("coldwatch/telemetry/comp-1", payload); err != nil {
			t.Fatalf("handler error = %v, want nil under backpressure", err)
		}
	}
	if m := g.Metrics(); m.BackpressureDrops != 2 {
		t.Errorf("BackpressureDrops = %d, want 2", m.BackpressureDrops)
	}
}

func TestTelemetryHandlerDefaultsMissingQuality(t *testing.T) {
	rec := &recorder{}
	g := NewGateway(Config{Workers: 1}, nil, rec)
	g.Start(context.Background())
	handle := g.TelemetryHandler()

	withoutQuality := []byte(`{"timestamp":"2026-03-01T12:00:00Z","temperature":-20,"power_consumption":40}`)
	if err := handle("coldwatch/telemetry/comp-1", withoutQuality); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	explicitZero := []byte(`{"timestamp":"2026-03-01T12:00:01Z","temperature":-20,"quality":0}`)
	if err := handle("coldwatch/telemetry/comp-1", explicitZero); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	stop(t, g)

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("processed %d messages, want 2", len(got))
	}
	if q := got[0].Reading.Quality; q != telemetry.DefaultQuality {
		t.Errorf("missing quality decoded as %v, want %v", q, telemetry.DefaultQuality)
	}
	if q := got[1].Reading.Quality; q != 0 {
		t.Errorf("explicit zero quality decoded as %v, want 0", q)
	}
}
