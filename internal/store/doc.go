// Package store is the durable time-series history for ColdWatch: readings,
// anomaly events and the device catalogue, kept in SQLite and queried with
// sqlx.
//
// Readings are written in batches. AddReading only appends to an in-memory
// batch; the batch is flushed when it reaches BatchSize or when the flush
// ticker fires, whichever comes first. A failed flush is retried once and
// then dropped and counted. Anomalies are written synchronously with
// exponential backoff because losing one is worse than slowing a worker.
//
// Readings are keyed by (device_id, timestamp): submitting the same reading
// twice leaves a single row.
//
// An optional Mirror (the InfluxDB client) receives every reading and
// anomaly after it has been committed to SQLite.
package store
