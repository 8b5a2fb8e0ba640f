package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// telemetryMessage is the envelope of a payload published on
// coldwatch/telemetry/{id}. A message carries either sensor fields, decoded
// separately as a telemetry.Reading, or a base64 PCM chunk in Audio.
type telemetryMessage struct {
	DeviceID   string `json:"device_id"`
	Priority   string `json:"priority,omitempty"`
	Audio      []byte `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// TelemetryHandler returns an MQTT handler that feeds device telemetry into
// the gateway. The device ID comes from the topic; a device_id in the body
// must match it. Messages rejected for backpressure are logged and dropped.
func (g *Gateway) TelemetryHandler() mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		deviceID, ok := mqtt.DeviceFromTelemetryTopic(topic)
		if !ok {
			return fmt.Errorf("%w: topic %q", telemetry.ErrInvalidReading, topic)
		}

		var msg telemetryMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return &telemetry.ValidationError{Field: "payload", Reason: err.Error()}
		}
		if msg.DeviceID != "" && msg.DeviceID != deviceID {
			return &telemetry.ValidationError{
				Field:  "device_id",
				Reason: fmt.Sprintf("%q does not match topic device %q", msg.DeviceID, deviceID),
			}
		}

		prio, err := ParsePriority(msg.Priority)
		if err != nil {
			return err
		}

		if len(msg.Audio) > 0 {
			_, err = g.Submit(deviceID, msg.Audio, msg.SampleRate, prio)
		} else {
			var reading telemetry.Reading
			if err := json.Unmarshal(payload, &reading); err != nil {
				return &telemetry.ValidationError{Field: "payload", Reason: err.Error()}
			}
			reading.DeviceID = deviceID
			_, err = g.SubmitReading(reading, prio)
		}
		if errors.Is(err, telemetry.ErrBackpressure) {
			g.logger.Warn("dropping MQTT telemetry under backpressure", "device_id", deviceID)
			return nil
		}
		return err
	}
}
