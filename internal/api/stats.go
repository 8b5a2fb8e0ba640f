package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/alerting"
	"github.com/nerrad567/coldwatch-core/internal/broadcast"
	"github.com/nerrad567/coldwatch-core/internal/health"
	"github.com/nerrad567/coldwatch-core/internal/ingest"
	"github.com/nerrad567/coldwatch-core/internal/pipeline"
	"github.com/nerrad567/coldwatch-core/internal/store"
)

// SystemStats is the response body of GET /api/v1/stats.
type SystemStats struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeStats      `json:"runtime"`
	Ingest        ingest.Metrics    `json:"ingest"`
	Health        *health.Stats     `json:"health,omitempty"`
	Store         store.Stats       `json:"store"`
	Broadcast     *broadcast.Stats  `json:"broadcast,omitempty"`
	Alerting      alerting.Stats    `json:"alerting"`
	Pipeline      pipeline.Stats    `json:"pipeline"`
	Subsystems    map[string]string `json:"subsystems"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// collectStats gathers counters from every component. Components owned by
// a goroutine that has stopped are omitted rather than failing the request.
func (s *Server) collectStats(r *http.Request) SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	out := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Ingest:     s.gateway.Metrics(),
		Store:      s.store.Stats(),
		Alerting:   s.dispatcher.Stats(),
		Pipeline:   s.pipeline.Stats(),
		Subsystems: s.pipeline.Subsystems(),
	}

	if hs, err := s.tracker.Stats(r.Context()); err == nil {
		out.Health = &hs
	} else {
		s.logger.Debug("health stats unavailable", "error", err)
	}
	if bs, err := s.hub.Stats(r.Context()); err == nil {
		out.Broadcast = &bs
	} else {
		s.logger.Debug("broadcast stats unavailable", "error", err)
	}
	return out
}

// handleStats returns every component's counters as JSON.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collectStats(r))
}
