// Package mqtt provides MQTT client connectivity for ColdWatch.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Telemetry subscriptions from compressor gateways
//   - Alert publishing for downstream consumers
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
//	coldwatch/telemetry/{device_id}   JSON readings from field gateways
//	coldwatch/alert/{device_id}       anomaly events at or above the alert gate
//	coldwatch/system/status           retained online/offline status (LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTelemetry(), 1, gateway.TelemetryHandler())
package mqtt
