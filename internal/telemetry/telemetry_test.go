package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

var testRates = []int{8000, 16000, 44100, 48000}

func pcm(samples ...int16) []byte {
	raw := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*BytesPerSample:], uint16(s))
	}
	return raw
}

func TestValidateChunk(t *testing.T) {
	hundred := pcm(make([]int16, 100)...)

	tests := []struct {
		name       string
		deviceID   string
		raw        []byte
		sampleRate int
		wantField  string
	}{
		{name: "valid minimum chunk", deviceID: "comp-1", raw: hundred, sampleRate: 16000},
		{name: "missing device", deviceID: "", raw: hundred, sampleRate: 16000, wantField: "device_id"},
		{name: "topic wildcard in device", deviceID: "comp/1", raw: hundred, sampleRate: 16000, wantField: "device_id"},
		{name: "unsupported rate", deviceID: "comp-1", raw: hundred, sampleRate: 22050, wantField: "sample_rate"},
		{name: "odd length", deviceID: "comp-1", raw: append(hundred, 0x01), sampleRate: 8000, wantField: "body"},
		{name: "too few samples", deviceID: "comp-1", raw: pcm(make([]int16, 99)...), sampleRate: 48000, wantField: "body"},
		{name: "empty body", deviceID: "comp-1", raw: nil, sampleRate: 44100, wantField: "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunk(tt.deviceID, tt.raw, tt.sampleRate, testRates, 100)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateChunk() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidReading) {
				t.Fatalf("ValidateChunk() error = %v, want ErrInvalidReading", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateChunk() error %T is not *ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestDecodePCM16LE(t *testing.T) {
	got := DecodePCM16LE(pcm(0, 1, -1, math.MaxInt16, math.MinInt16))
	want := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]int16{100, -100, 100, -100}); got != 100 {
		t.Errorf("RMS(square 100) = %v, want 100", got)
	}
	if got := RMS([]int16{3, 4}); math.Abs(got-math.Sqrt(12.5)) > 1e-9 {
		t.Errorf("RMS(3,4) = %v, want %v", got, math.Sqrt(12.5))
	}
}

func validReading() Reading {
	return Reading{
		DeviceID:         "comp-1",
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Temperature:      -20,
		PowerConsumption: 40,
		AudioLevel:       100,
		Quality:          1,
	}
}

func TestReadingValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Reading)
		ok     bool
	}{
		{name: "valid", mutate: func(*Reading) {}, ok: true},
		{name: "zero timestamp", mutate: func(r *Reading) { r.Timestamp = time.Time{} }},
		{name: "NaN temperature", mutate: func(r *Reading) { r.Temperature = math.NaN() }},
		{name: "infinite vibration", mutate: func(r *Reading) { r.Vibration.Z = math.Inf(1) }},
		{name: "negative power", mutate: func(r *Reading) { r.PowerConsumption = -1 }},
		{name: "negative audio", mutate: func(r *Reading) { r.AudioLevel = -0.1 }},
		{name: "quality above one", mutate: func(r *Reading) { r.Quality = 1.01 }},
		{name: "empty device", mutate: func(r *Reading) { r.DeviceID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReading()
			tt.mutate(&r)
			err := r.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidReading) {
				t.Fatalf("Validate() error = %v, want ErrInvalidReading", err)
			}
		})
	}
}

func TestReadingValidateReportsFirstBadField(t *testing.T) {
	r := validReading()
	r.Temperature = math.NaN()
	r.AudioLevel = math.Inf(-1)
	r.Quality = math.NaN()

	for range 20 {
		var verr *ValidationError
		if err := r.Validate(); !errors.As(err, &verr) {
			t.Fatalf("Validate() error = %v, want *ValidationError", err)
		}
		if verr.Field != "temperature" {
			t.Fatalf("Field = %q, want temperature", verr.Field)
		}
	}
}

func TestReadingUnmarshalDefaultsQuality(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{name: "absent", body: `{"device_id":"comp-1","temperature":-20}`, want: DefaultQuality},
		{name: "explicit zero", body: `{"device_id":"comp-1","quality":0}`, want: 0},
		{name: "explicit value", body: `{"device_id":"comp-1","quality":0.4}`, want: 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Reading
			if err := json.Unmarshal([]byte(tt.body), &r); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if r.Quality != tt.want {
				t.Errorf("Quality = %v, want %v", r.Quality, tt.want)
			}
			if r.DeviceID != "comp-1" {
				t.Errorf("DeviceID = %q, want comp-1", r.DeviceID)
			}
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should be at least high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("medium should not be at least high")
	}
	if _, err := ParseSeverity("urgent"); !errors.Is(err, ErrInvalidReading) {
		t.Errorf("ParseSeverity(urgent) error = %v", err)
	}
	if sev, err := ParseSeverity("low"); err != nil || sev != SeverityLow {
		t.Errorf("ParseSeverity(low) = %v, %v", sev, err)
	}
}

func TestChannelsWorst(t *testing.T) {
	c := Channels{
		Temperature: StatusNormal,
		Vibration:   StatusWarning,
		Power:       StatusCritical,
		Audio:       StatusNormal,
	}
	if got := c.Worst(); got != StatusCritical {
		t.Errorf("Worst() = %v, want critical", got)
	}
	if got := Worst(StatusCritical, StatusOffline); got != StatusOffline {
		t.Errorf("Worst(critical, offline) = %v, want offline", got)
	}
}

func TestNewAnomalyEvent(t *testing.T) {
	r := validReading()
	ev := NewAnomalyEvent(r, AnomalyTemperatureCritical, SeverityCritical, 1.4, "too warm")

	if ev.ID == "" {
		t.Error("expected a generated ID")
	}
	if ev.DeviceID != r.DeviceID || !ev.Timestamp.Equal(r.Timestamp) {
		t.Errorf("event not tied to reading: %+v", ev)
	}
	if ev.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", ev.Confidence)
	}
	other := NewAnomalyEvent(r, AnomalyTemperatureCritical, SeverityCritical, 0.9, "")
	if other.ID == ev.ID {
		t.Error("IDs should be unique")
	}
}

func TestVibrationMagnitude(t *testing.T) {
	if got := (Vibration{X: 3, Y: 4}).Magnitude(); got != 5 {
		t.Errorf("Magnitude() = %v, want 5", got)
	}
}
