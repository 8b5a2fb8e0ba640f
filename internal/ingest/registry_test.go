package ingest

import (
	"testing"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

func TestRegistryRegisterAndObserve(t *testing.T) {
	r := NewRegistry()

	rec := r.RegisterDevice("comp-1", "10.0.0.1", 16000)
	if rec.Addr != "10.0.0.1" || rec.SampleRate != 16000 || rec.FirstSeen.IsZero() {
		t.Fatalf("RegisterDevice() = %+v", rec)
	}

	// Empty values keep what was registered.
	rec = r.RegisterDevice("comp-1", "", 0)
	if rec.Addr != "10.0.0.1" || rec.SampleRate != 16000 {
		t.Errorf("re-register with empty values = %+v", rec)
	}

	newer := telemetry.Reading{DeviceID: "comp-1", Timestamp: time.Unix(200, 0), Temperature: -20}
	older := telemetry.Reading{DeviceID: "comp-1", Timestamp: time.Unix(100, 0), Temperature: 40}
	r.observe("comp-1", 0, &newer)
	r.observe("comp-1", 0, &older)

	last, ok := r.lastSensors("comp-1")
	if !ok || last.Temperature != -20 {
		t.Errorf("lastSensors() = %+v, %v; an older reading must not replace a newer one", last, ok)
	}

	got, _ := r.Get("comp-1")
	if got.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", got.Chunks)
	}

	// Returned records are copies.
	got.LastSensors.Temperature = 99
	again, _ := r.Get("comp-1")
	if again.LastSensors.Temperature != -20 {
		t.Error("mutating a returned record changed the registry")
	}
}

func TestRegistryCleanup(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry()
	r.now = func() time.Time { return now }

	r.RegisterDevice("old", "", 0)
	now = now.Add(5 * time.Minute)
	r.RegisterDevice("fresh", "", 0)
	r.observe("fresh", 0, nil)
	now = now.Add(6 * time.Minute)

	if n := r.Cleanup(10 * time.Minute); n != 1 {
		t.Fatalf("Cleanup() = %d, want 1", n)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old device was not evicted")
	}

	devices := r.Devices()
	if len(devices) != 1 || devices[0].DeviceID != "fresh" {
		t.Errorf("Devices() = %+v", devices)
	}
}

func TestRegistryDevicesSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.RegisterDevice(id, "", 0)
	}
	got := r.Devices()
	if len(got) != 3 || got[0].DeviceID != "a" || got[2].DeviceID != "c" {
		t.Errorf("Devices() = %+v", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}
