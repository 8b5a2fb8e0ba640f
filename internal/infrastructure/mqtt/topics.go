package mqtt

import "strings"

// TopicPrefix is the root of every ColdWatch topic.
const TopicPrefix = "coldwatch"

// Topics provides builders for ColdWatch MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Alert("comp-12") // "coldwatch/alert/comp-12"
type Topics struct{}

// Telemetry returns the topic a device publishes readings to.
func (Topics) Telemetry(deviceID string) string {
	return TopicPrefix + "/telemetry/" + deviceID
}

// AllTelemetry matches every device's telemetry topic.
func (Topics) AllTelemetry() string {
	return TopicPrefix + "/telemetry/+"
}

// Alert returns the topic anomaly alerts for a device are published to.
func (Topics) Alert(deviceID string) string {
	return TopicPrefix + "/alert/" + deviceID
}

// AllAlerts matches every device's alert topic.
func (Topics) AllAlerts() string {
	return TopicPrefix + "/alert/+"
}

// SystemStatus is the retained online/offline topic, also used as the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceFromTelemetryTopic extracts the device ID from a telemetry topic.
func DeviceFromTelemetryTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicPrefix+"/telemetry/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
