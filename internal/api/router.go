package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/coldwatch-core/internal/broadcast"
)

const defaultWSPath = "/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/metrics", s.handleMetrics)

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = defaultWSPath
	}
	r.Handle(wsPath, broadcast.NewHandler(s.hub, broadcast.WSConfigFromApp(s.wsCfg), s.logger.Component("ws")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		// Device-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(s.deviceAuthMiddleware)

			r.Post("/ingest/audio", s.handleIngestAudio)
			r.Post("/ingest/readings", s.handleIngestReadings)
			r.Post("/devices", s.handleRegisterDevice)
		})

		r.Get("/devices", s.handleListDevices)
		r.Route("/devices/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDevice)
			r.Get("/health", s.handleDeviceHealth)
			r.Get("/readings", s.handleDeviceReadings)
			r.Get("/recent", s.handleDeviceRecent)
		})

		r.Get("/anomalies", s.handleListAnomalies)
		r.Get("/audit", s.handleListAudit)
	})

	return r
}

// handleHealth reports service liveness and subsystem state. A degraded
// subsystem still answers 200 so load balancers keep routing ingest traffic.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subsystems := s.pipeline.Subsystems()
	resp := map[string]any{
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"subsystems":     subsystems,
	}

	if s.db != nil && subsystems["database"] != "down" {
		schema, err := s.db.MigrationStatus(r.Context())
		switch {
		case err != nil:
			s.logger.Warn("reading schema status failed", "error", err)
			subsystems["database"] = "schema unknown"
		case !schema.Current():
			subsystems["database"] = "migrations pending"
		}
		if err == nil {
			resp["schema"] = map[string]any{
				"applied": len(schema.Applied),
				"pending": schema.PendingVersions(),
			}
		}
	}

	status := "ok"
	for _, v := range subsystems {
		if v != "ok" {
			status = "degraded"
		}
	}
	resp["status"] = status
	writeJSON(w, http.StatusOK, resp)
}
