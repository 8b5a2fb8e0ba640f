package broadcast

import (
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Message types.
const (
	// Client to server.
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeGetData     = "get_data"
	TypePing        = "ping"

	// Replies.
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypeDataResponse            = "data_response"
	TypePong                    = "pong"
	TypeError                   = "error"

	// Server initiated.
	TypeSensorData      = "sensor_data"
	TypeAnomalyDetected = "anomaly_detected"
	TypeHeartbeat       = "heartbeat"
	TypeStatusUpdate    = "status_update"
)

// Message is the JSON envelope for everything the hub sends.
type Message struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	DeviceIDs []string  `json:"device_ids,omitempty"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Request is a message received from a client.
type Request struct {
	Type      string   `json:"type"`
	DeviceID  string   `json:"device_id,omitempty"`
	DeviceIDs []string `json:"device_ids,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// SystemStatus is the payload of the periodic status_update.
type SystemStatus struct {
	Clients    int               `json:"clients"`
	Devices    int               `json:"devices"`
	Evicted    int64             `json:"evicted"`
	Subsystems map[string]string `json:"subsystems,omitempty"`
	Degraded   bool              `json:"degraded"`
}

// StatusProvider reports subsystem health for the periodic status_update.
// Values are "ok" or a short description of what is wrong; anything other
// than "ok" marks the snapshot degraded. It is called on the hub goroutine
// and must be cheap.
type StatusProvider interface {
	Subsystems() map[string]string
}

// StatusFunc adapts a function to StatusProvider.
type StatusFunc func() map[string]string

// Subsystems calls f.
func (f StatusFunc) Subsystems() map[string]string { return f() }

type heartbeat struct {
	Clients int `json:"clients"`
}

// healthUpdate is the payload of a per-device status_update.
type healthUpdate struct {
	Health telemetry.DeviceHealth `json:"health"`
}
