package api

import (
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricsNamespace = "coldwatch_"

// familyBuilder accumulates metric families for one scrape.
type familyBuilder struct {
	families []*dto.MetricFamily
}

func (b *familyBuilder) add(name, help string, typ dto.MetricType, value float64, labels ...string) {
	m := &dto.Metric{}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{Name: ptr(labels[i]), Value: ptr(labels[i+1])})
	}
	switch typ {
	case dto.MetricType_COUNTER:
		m.Counter = &dto.Counter{Value: ptr(value)}
	default:
		m.Gauge = &dto.Gauge{Value: ptr(value)}
	}

	full := metricsNamespace + name
	for _, f := range b.families {
		if f.GetName() == full {
			f.Metric = append(f.Metric, m)
			return
		}
	}
	b.families = append(b.families, &dto.MetricFamily{
		Name:   ptr(full),
		Help:   ptr(help),
		Type:   typ.Enum(),
		Metric: []*dto.Metric{m},
	})
}

func (b *familyBuilder) counter(name, help string, v int64, labels ...string) {
	b.add(name, help, dto.MetricType_COUNTER, float64(v), labels...)
}

func (b *familyBuilder) gauge(name, help string, v float64, labels ...string) {
	b.add(name, help, dto.MetricType_GAUGE, v, labels...)
}

func ptr[T any](v T) *T { return &v }

// handleMetrics exposes component counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st := s.collectStats(r)
	var b familyBuilder

	b.gauge("uptime_seconds", "Seconds since the API server was created.", float64(st.UptimeSeconds))
	b.gauge("goroutines", "Number of goroutines.", float64(st.Runtime.Goroutines))

	b.counter("ingest_received_total", "Audio chunks and readings accepted by the gateway.", st.Ingest.Received)
	b.counter("ingest_processed_total", "Work items processed successfully.", st.Ingest.ProcessedChunks)
	b.counter("ingest_failed_total", "Work items whose processing failed.", st.Ingest.FailedChunks)
	b.counter("ingest_rejected_total", "Submissions rejected by validation.", st.Ingest.Rejected)
	b.counter("ingest_backpressure_total", "Submissions refused because the queue was full.", st.Ingest.BackpressureDrops)
	b.gauge("ingest_queue_depth", "Work items waiting in the queue.", float64(st.Ingest.QueueDepth))
	b.gauge("ingest_queue_capacity", "Queue capacity.", float64(st.Ingest.QueueCapacity))
	b.gauge("ingest_workers", "Worker goroutines.", float64(st.Ingest.Workers))
	b.gauge("ingest_latency_avg_ms", "Average processing latency in milliseconds.", st.Ingest.AvgLatencyMS)

	b.counter("store_readings_written_total", "Readings persisted.", st.Store.ReadingsWritten)
	b.counter("store_readings_dropped_total", "Readings discarded after a failed flush.", st.Store.ReadingsDropped)
	b.counter("store_flush_errors_total", "Batch flushes that failed.", st.Store.FlushErrors)
	b.counter("store_anomalies_written_total", "Anomaly events persisted.", st.Store.AnomaliesWritten)
	b.gauge("store_pending", "Readings buffered and not yet flushed.", float64(st.Store.Pending))

	if st.Health != nil {
		b.gauge("health_devices", "Devices tracked.", float64(st.Health.Devices))
		b.gauge("health_offline_devices", "Devices currently offline.", float64(st.Health.Offline))
		b.counter("health_evaluations_total", "Readings evaluated against thresholds.", st.Health.Evaluated)
		b.counter("health_stale_total", "Readings skipped as older than the latest seen.", st.Health.Stale)
		b.counter("health_events_total", "Anomaly events produced.", st.Health.Events)
	}

	if st.Broadcast != nil {
		b.gauge("broadcast_clients", "Connected dashboard clients.", float64(st.Broadcast.Clients))
		b.gauge("broadcast_subscriptions", "Active device subscriptions.", float64(st.Broadcast.Subscriptions))
		b.counter("broadcast_delivered_total", "Messages delivered to clients.", st.Broadcast.Delivered)
		b.counter("broadcast_evicted_total", "Clients evicted for slow consumption.", st.Broadcast.Evicted)
	}

	b.counter("alerts_received_total", "Anomaly events offered to the dispatcher.", st.Alerting.Received)
	b.counter("alerts_suppressed_total", "Events suppressed before delivery.", st.Alerting.BelowSeverity, "reason", "severity")
	b.counter("alerts_suppressed_total", "Events suppressed before delivery.", st.Alerting.CooledDown, "reason", "cooldown")
	b.counter("alerts_suppressed_total", "Events suppressed before delivery.", st.Alerting.Dropped, "reason", "queue_full")
	b.counter("alerts_delivered_total", "Successful sink deliveries.", st.Alerting.Delivered)
	b.counter("alerts_delivery_errors_total", "Failed sink deliveries.", st.Alerting.DeliveryErrors)

	names := make([]string, 0, len(st.Subsystems))
	for name := range st.Subsystems {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		up := 0.0
		if st.Subsystems[name] == "ok" {
			up = 1
		}
		b.gauge("subsystem_up", "1 when the subsystem reports ok.", up, "subsystem", name)
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	for _, f := range b.families {
		if _, err := expfmt.MetricFamilyToText(w, f); err != nil {
			s.logger.Debug("writing metrics failed", "error", err)
			return
		}
	}
}
