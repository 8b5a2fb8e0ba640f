package telemetry

import (
	"math"
	"strings"
	"time"
)

const maxDeviceIDLength = 128

// ValidateDeviceID checks that a device identifier is usable as a key and
// as an MQTT topic segment.
func ValidateDeviceID(id string) error {
	if id == "" {
		return invalid("device_id", "required")
	}
	if len(id) > maxDeviceIDLength {
		return invalid("device_id", "longer than %d characters", maxDeviceIDLength)
	}
	if strings.ContainsAny(id, "/+#\x00 ") {
		return invalid("device_id", "contains a reserved character")
	}
	return nil
}

// Validate checks a structured reading before it is queued.
func (r Reading) Validate() error {
	if err := ValidateDeviceID(r.DeviceID); err != nil {
		return err
	}
	if r.Timestamp.IsZero() {
		return invalid("timestamp", "required")
	}
	fields := [...]struct {
		name  string
		value float64
	}{
		{"temperature", r.Temperature},
		{"vibration.x", r.Vibration.X},
		{"vibration.y", r.Vibration.Y},
		{"vibration.z", r.Vibration.Z},
		{"power_consumption", r.PowerConsumption},
		{"audio_level", r.AudioLevel},
		{"quality", r.Quality},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return invalid(f.name, "not a finite number")
		}
	}
	if r.PowerConsumption < 0 {
		return invalid("power_consumption", "negative")
	}
	if r.AudioLevel < 0 {
		return invalid("audio_level", "negative")
	}
	if r.Quality < 0 || r.Quality > 1 {
		return invalid("quality", "must be within [0,1]")
	}
	return nil
}

// Normalize returns r with its timestamp in UTC and the monotonic clock
// reading stripped, so equal instants compare equal with ==.
func (r Reading) Normalize() Reading {
	r.Timestamp = r.Timestamp.UTC().Round(0)
	return r
}

// Age returns how long ago the reading was taken relative to now.
func (r Reading) Age(now time.Time) time.Duration {
	return now.Sub(r.Timestamp)
}
