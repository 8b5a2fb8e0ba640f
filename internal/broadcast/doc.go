// Package broadcast fans live telemetry out to dashboard clients.
//
// A Hub keeps the subscription index (device to clients and client to
// devices), a ring buffer of recent readings per device and one bounded
// send buffer per client. All of it is owned by a single goroutine; public
// methods hand work to that goroutine and wait for it.
//
// Delivery is best-effort. A client whose send buffer is full is evicted
// from both index directions and its connection is closed, so one slow
// dashboard never holds up the others.
//
// The hub pushes four kinds of server-initiated message:
//
//	sensor_data       latest reading per subscribed device, every live interval
//	anomaly_detected  immediately when an anomaly is published
//	status_update     device health changes, and a periodic system snapshot
//	heartbeat         liveness tick with the connected client count
//
// Handler serves the hub over WebSocket (gorilla/websocket).
package broadcast
