// Package health tracks the condition of every compressor that reports
// telemetry.
//
// A Tracker owns all per-device state (rolling windows, DeviceHealth
// snapshots and open anomalies) on a single goroutine. Callers talk to it
// through methods that hand work to that goroutine and wait for the result,
// so evaluation for any one device is strictly sequential and no locks
// guard the maps.
//
// Each reading is checked against three-tier bands per channel
// (temperature, vibration magnitude, power, audio level), then, once the
// window holds enough samples, against trend rules (temperature slope and
// vibration variance). A periodic sweep marks devices offline when they
// stop reporting.
//
// Usage:
//
//	tr := health.NewTracker(health.FromAppConfig(cfg.Health))
//	tr.SetLogger(logger.Component("health"))
//	tr.SetOnStatusChange(func(h telemetry.DeviceHealth) { ... })
//	tr.Start(ctx)
//	defer tr.Stop()
//
//	events, err := tr.Evaluate(ctx, reading)
package health
