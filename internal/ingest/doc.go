// Package ingest is the front door of the ColdWatch pipeline: it validates
// submissions, queues them by priority and runs the worker pool that scores
// each reading before handing it downstream.
//
// Two kinds of submission are accepted. Audio chunks (raw little-endian
// int16 PCM) are reduced to an RMS audio level and merged with the device's
// last known sensor channels. Structured readings arrive as JSON over HTTP
// or MQTT and are used as-is.
//
// Submit never blocks: a full queue is reported as telemetry.ErrBackpressure
// and the caller decides whether to retry. The queue never hands two items
// for the same device to different workers at once, so each device's
// readings reach the Processor in submission order.
package ingest
