package alerting

import (
	"context"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Publisher is the subset of *mqtt.Client used by MQTTSink.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink publishes events to coldwatch/alert/{device_id}.
type MQTTSink struct {
	name string
	pub  Publisher
}

// NewMQTTSink creates an MQTT sink.
func NewMQTTSink(name string, pub Publisher) *MQTTSink {
	return &MQTTSink{name: name, pub: pub}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return s.name }

// Send implements Sink. The MQTT client bounds the publish with its own
// timeout, so ctx is only checked up front.
func (s *MQTTSink) Send(ctx context.Context, ev telemetry.AnomalyEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.pub.PublishJSON(mqtt.Topics{}.Alert(ev.DeviceID), ev, false)
}
