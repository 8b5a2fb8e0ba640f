// Package influxdb mirrors ColdWatch data into InfluxDB v2.
//
// The SQLite store remains the system of record. When the influxdb section
// of config.yaml is enabled, committed readings and anomalies and device
// health transitions are also written as points so they can be explored in
// InfluxDB dashboards:
//
//	compressor_readings   tag device_id; sensor fields
//	compressor_anomalies  tags device_id, anomaly_type, severity
//	compressor_health     tags device_id, status; overall_health, channel statuses
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	st.SetMirror(client)
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous failures are delivered to SetOnError.
package influxdb
