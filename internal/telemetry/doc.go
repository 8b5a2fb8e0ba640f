// Package telemetry defines the value types that flow through the ColdWatch
// pipeline and the error taxonomy shared by every stage.
//
// # Data Flow
//
//	device ──▶ ingest.Gateway ──▶ scoring.Scorer ──▶ health.Tracker
//	                                                   │
//	                     ┌─────────────────────────────┼──────────────────┐
//	                     ▼                             ▼                  ▼
//	               store.Store               broadcast.Hub      alerting.Dispatcher
//
// Reading and AnomalyEvent are immutable values: they are passed by value
// and never modified once created. DeviceHealth snapshots handed out by the
// tracker are copies.
//
// # Errors
//
// Every stage reports failures through the sentinels in errors.go so callers
// can branch with errors.Is regardless of which package produced them:
//
//	ok, err := gw.Submit(id, pcm, 16000, ingest.PriorityNormal)
//	if errors.Is(err, telemetry.ErrBackpressure) {
//	    // ask the device to retry later
//	}
package telemetry
