// Package alerting delivers anomaly events to external notification sinks.
//
// Sinks are built once at startup from the alerting.sinks section of
// config.yaml. The set is fixed for the life of the process:
//
//	log      structured log line
//	mqtt     JSON on coldwatch/alert/{device_id}
//	webhook  JSON POST, plain ("http") or Slack incoming-webhook format
//	sns      AWS SNS publish
//
// A Dispatcher sits in front of the sinks. It drops events below the
// configured minimum severity, suppresses repeats of the same anomaly type
// on the same device within the cooldown window, and hands the rest to a
// single delivery goroutine through a bounded queue. Sink failures are
// logged and counted; they never reach the caller.
package alerting
