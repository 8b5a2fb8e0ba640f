// Package api implements the ColdWatch HTTP API.
//
// It provides:
//   - ingestion endpoints for raw PCM audio chunks and JSON sensor readings
//   - device catalogue, health, history and recent-reading queries
//   - anomaly queries with device, type, severity and time filters
//   - service health, JSON stats and a Prometheus /metrics exposition
//   - the dashboard WebSocket endpoint backed by the broadcast hub
//   - the audit trail of device registrations and config reloads
//   - optional HS256 JWT device authentication on the ingest routes
//
// # Ingestion status codes
//
//	202 Accepted             queued for processing
//	400 Bad Request          validation failure (telemetry.ErrInvalidReading)
//	401/403                  missing or mismatched device token
//	503 Service Unavailable  queue full (Retry-After set) or shutting down
//
// The server follows the same lifecycle pattern as the other components:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
