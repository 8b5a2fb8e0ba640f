package telemetry

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// Vibration is a three-axis vibration sample.
type Vibration struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns the Euclidean norm of the three axes.
func (v Vibration) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Reading is one telemetry sample from a compressor.
type Reading struct {
	DeviceID         string    `json:"device_id"`
	Timestamp        time.Time `json:"timestamp"`
	Temperature      float64   `json:"temperature"`
	Vibration        Vibration `json:"vibration"`
	PowerConsumption float64   `json:"power_consumption"`
	AudioLevel       float64   `json:"audio_level"`
	Quality          float64   `json:"quality"`

	// AudioChunk marks readings built from a raw PCM chunk. Their
	// AudioLevel is an RMS amplitude, not a sensor-reported level.
	AudioChunk bool `json:"-"`
}

// DefaultQuality is assumed for readings that do not report a quality.
const DefaultQuality = 1.0

// UnmarshalJSON decodes a reading, defaulting an absent quality to
// DefaultQuality. An explicit 0 is kept.
func (r *Reading) UnmarshalJSON(data []byte) error {
	type plain Reading
	p := plain{Quality: DefaultQuality}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Reading(p)
	return nil
}

// Severity ranks anomaly events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as min or more.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity converts a config or query string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if sev.Rank() == 0 {
		return "", invalid("severity", "unknown severity %q", s)
	}
	return sev, nil
}

// AnomalyType names the rule that produced an event.
type AnomalyType string

// Rule-derived anomaly types. Scorer hints may add others.
const (
	AnomalyTemperatureWarning  AnomalyType = "temperature_warning"
	AnomalyTemperatureCritical AnomalyType = "temperature_critical"
	AnomalyVibrationWarning    AnomalyType = "vibration_warning"
	AnomalyVibrationCritical   AnomalyType = "vibration_critical"
	AnomalyPowerWarning        AnomalyType = "power_warning"
	AnomalyPowerCritical       AnomalyType = "power_critical"
	AnomalyAudioWarning        AnomalyType = "audio_warning"
	AnomalyAudioCritical       AnomalyType = "audio_critical"
	AnomalyTemperatureTrend    AnomalyType = "temperature_trend"
	AnomalyVibrationPattern    AnomalyType = "vibration_pattern"
)

// AnomalyEvent is an immutable record of a detected anomaly.
type AnomalyEvent struct {
	ID            string      `json:"id"`
	DeviceID      string      `json:"device_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Type          AnomalyType `json:"anomaly_type"`
	Severity      Severity    `json:"severity"`
	Confidence    float64     `json:"confidence"`
	Description   string      `json:"description"`
	SourceReading Reading     `json:"source_reading"`
}

// NewAnomalyEvent creates an event for reading r with a fresh ID. The event
// takes the reading's timestamp.
func NewAnomalyEvent(r Reading, typ AnomalyType, sev Severity, confidence float64, description string) AnomalyEvent {
	return AnomalyEvent{
		ID:            uuid.NewString(),
		DeviceID:      r.DeviceID,
		Timestamp:     r.Timestamp,
		Type:          typ,
		Severity:      sev,
		Confidence:    clamp(confidence, 0, 1),
		Description:   description,
		SourceReading: r,
	}
}

// Status is the health state of a device or one of its channels.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
	StatusError    Status = "error"
)

// Rank orders channel statuses so the worst can be picked. Offline and
// error are not channel statuses and rank above critical.
func (s Status) Rank() int {
	switch s {
	case StatusNormal:
		return 0
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	case StatusError:
		return 3
	case StatusOffline:
		return 4
	default:
		return 0
	}
}

// Worst returns the more severe of a and b.
func Worst(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Channels holds the per-channel status of a device.
type Channels struct {
	Temperature Status `json:"temperature"`
	Vibration   Status `json:"vibration"`
	Power       Status `json:"power"`
	Audio       Status `json:"audio"`
}

// Worst returns the most severe channel status.
func (c Channels) Worst() Status {
	return Worst(Worst(c.Temperature, c.Vibration), Worst(c.Power, c.Audio))
}

// DeviceHealth is a point-in-time health snapshot of one device.
type DeviceHealth struct {
	DeviceID      string        `json:"device_id"`
	Status        Status        `json:"status"`
	LastSeen      time.Time     `json:"last_seen"`
	Channels      Channels      `json:"channels"`
	OverallHealth float64       `json:"overall_health"`
	AnomalyCount  int           `json:"anomaly_count"`
	OpenAnomalies []AnomalyType `json:"open_anomalies"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Score is the scorer's opinion of a reading: a value in [0,1] where higher
// is more anomalous, and an optional hint naming the suspected fault.
type Score struct {
	Value float64 `json:"value"`
	Hint  string  `json:"hint,omitempty"`
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
