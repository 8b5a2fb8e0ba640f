// Package pipeline wires the ColdWatch components into one processing
// chain.
//
// The ingestion gateway's workers call Process for every scored reading.
// For each reading the pipeline, in order:
//
//  1. queues it for batched persistence in the store
//  2. hands it to the broadcaster for the live feed
//  3. evaluates it against the health rules (or only touches the device
//     when scoring failed)
//  4. for every anomaly event: persists it, broadcasts it, and passes it
//     to the alert dispatcher
//
// Device status changes reported by the tracker are forwarded from a
// separate goroutine to the broadcaster, the devices table and the
// optional InfluxDB mirror.
//
// Stop shuts the chain down front to back: gateway drain, tracker, store
// flush, dispatcher drain, broadcaster.
package pipeline
