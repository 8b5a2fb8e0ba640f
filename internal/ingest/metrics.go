package ingest

import (
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time view of gateway counters.
type Metrics struct {
	Received          int64   `json:"received"`
	ProcessedChunks   int64   `json:"processed_chunks"`
	FailedChunks      int64   `json:"failed_chunks"`
	Rejected          int64   `json:"rejected"`
	BackpressureDrops int64   `json:"backpressure_drops"`
	QueueDepth        int     `json:"queue_depth"`
	QueueCapacity     int     `json:"queue_capacity"`
	Workers           int     `json:"workers"`
	Devices           int     `json:"devices"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
}

type counters struct {
	received     atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
	rejected     atomic.Int64
	backpressure atomic.Int64

	latencyNanos atomic.Int64
	latencyCount atomic.Int64
}

func (c *counters) observeLatency(d time.Duration) {
	c.latencyNanos.Add(int64(d))
	c.latencyCount.Add(1)
}

func (c *counters) avgLatencyMS() float64 {
	n := c.latencyCount.Load()
	if n == 0 {
		return 0
	}
	return float64(c.latencyNanos.Load()) / float64(n) / float64(time.Millisecond)
}
