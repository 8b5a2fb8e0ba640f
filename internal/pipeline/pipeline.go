package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/alerting"
	"github.com/nerrad567/coldwatch-core/internal/broadcast"
	"github.com/nerrad567/coldwatch-core/internal/health"
	"github.com/nerrad567/coldwatch-core/internal/ingest"
	"github.com/nerrad567/coldwatch-core/internal/scoring"
	"github.com/nerrad567/coldwatch-core/internal/store"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

const (
	statusBuffer = 256

	// degradedFor is how long a store alarm keeps the store subsystem
	// reported as degraded.
	degradedFor = time.Minute

	// nearFull is the queue fill ratio reported as degraded.
	nearFull = 0.9
)

// Logger is the logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// HealthWriter receives device status changes. *influxdb.Client implements it.
type HealthWriter interface {
	WriteHealth(h telemetry.DeviceHealth)
}

// Deps are the components the pipeline connects. Store, Tracker, Hub and
// Dispatcher are required.
type Deps struct {
	Store      *store.Store
	Tracker    *health.Tracker
	Hub        *broadcast.Hub
	Dispatcher *alerting.Dispatcher
	Scorer     scoring.Scorer

	// HealthMirror optionally records status changes.
	HealthMirror HealthWriter

	// Checks are extra subsystems reported in status snapshots, e.g. the
	// MQTT connection. A check returning false marks the subsystem down.
	Checks map[string]func() bool

	Logger Logger
}

// Stats reports pipeline counters.
type Stats struct {
	Readings        int64 `json:"readings"`
	StoreErrors     int64 `json:"store_errors"`
	Anomalies       int64 `json:"anomalies"`
	AnomalyErrors   int64 `json:"anomaly_errors"`
	AlertsRejected  int64 `json:"alerts_rejected"`
	StatusChanges   int64 `json:"status_changes"`
	StatusDropped   int64 `json:"status_dropped"`
	StatusErrors    int64 `json:"status_errors"`
	BroadcastErrors int64 `json:"broadcast_errors"`
}

// Pipeline implements ingest.Processor over the ColdWatch components and
// owns their lifecycle.
type Pipeline struct {
	store      *store.Store
	tracker    *health.Tracker
	hub        *broadcast.Hub
	dispatcher *alerting.Dispatcher
	gateway    *ingest.Gateway
	mirror     HealthWriter
	checks     map[string]func() bool
	logger     Logger
	now        func() time.Time

	statusCh   chan telemetry.DeviceHealth
	statusDone chan struct{}
	statusMu   sync.RWMutex
	statusOpen bool

	lastAlarm atomic.Int64

	readings, storeErrors, anomalies, anomalyErrors atomic.Int64

	alertsRejected, statusChanges, statusDropped atomic.Int64

	statusErrors, broadcastErrors atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stopErr   error
}

// New builds the gateway around the pipeline and registers the status
// change, alarm and status-provider hooks on the components.
func New(cfg ingest.Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	p := &Pipeline{
		store:      deps.Store,
		tracker:    deps.Tracker,
		hub:        deps.Hub,
		dispatcher: deps.Dispatcher,
		mirror:     deps.HealthMirror,
		checks:     deps.Checks,
		logger:     logger,
		now:        time.Now,
		statusCh:   make(chan telemetry.DeviceHealth, statusBuffer),
		statusDone: make(chan struct{}),
		statusOpen: true,
	}

	p.gateway = ingest.NewGateway(cfg, deps.Scorer, p)
	p.tracker.SetOnStatusChange(p.onStatusChange)
	p.store.SetOnAlarm(p.onStoreAlarm)
	p.hub.SetStatusProvider(p)
	return p
}

// Gateway returns the ingestion gateway feeding the pipeline.
func (p *Pipeline) Gateway() *ingest.Gateway {
	return p.gateway
}

// Start starts every component, consumers before the gateway.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.store.Start(ctx)
		p.tracker.Start(ctx)
		p.hub.Start(ctx)
		p.dispatcher.Start(ctx)
		go p.statusLoop(context.WithoutCancel(ctx))
		p.gateway.Start(ctx)
		p.logger.Info("pipeline started")
	})
}

// Process implements ingest.Processor.
func (p *Pipeline) Process(ctx context.Context, s ingest.Scored) error {
	r := s.Reading
	p.readings.Add(1)

	var errs []error
	if err := p.store.AddReading(r); err != nil {
		p.storeErrors.Add(1)
		errs = append(errs, fmt.Errorf("queueing reading: %w", err))
	}
	if err := p.hub.PublishReading(ctx, r); err != nil {
		p.broadcastErrors.Add(1)
		p.logger.Debug("reading not broadcast", "device_id", r.DeviceID, "error", err)
	}

	if s.ScoreErr != nil {
		if err := p.tracker.Touch(ctx, r.DeviceID); err != nil {
			errs = append(errs, fmt.Errorf("touching device: %w", err))
		}
		return errors.Join(errs...)
	}

	res, err := p.tracker.EvaluateScored(ctx, r, &s.Score)
	if err != nil {
		errs = append(errs, fmt.Errorf("evaluating reading: %w", err))
		return errors.Join(errs...)
	}

	for _, ev := range res.Events {
		if err := p.emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// emit persists, broadcasts and notifies one anomaly event. A persistence
// failure does not stop the live paths.
func (p *Pipeline) emit(ctx context.Context, ev telemetry.AnomalyEvent) error {
	p.anomalies.Add(1)

	var persistErr error
	if err := p.store.AddAnomaly(ctx, ev); err != nil {
		p.anomalyErrors.Add(1)
		persistErr = fmt.Errorf("persisting anomaly %s: %w", ev.ID, err)
	}

	if err := p.hub.Publish(ctx, ev); err != nil {
		p.broadcastErrors.Add(1)
		p.logger.Warn("anomaly not broadcast", "anomaly_id", ev.ID, "error", err)
	}

	if _, err := p.dispatcher.Notify(ev); err != nil {
		p.alertsRejected.Add(1)
		p.logger.Warn("anomaly not sent to alert sinks", "anomaly_id", ev.ID, "error", err)
	}

	p.logger.Info("anomaly detected",
		"anomaly_id", ev.ID,
		"device_id", ev.DeviceID,
		"anomaly_type", ev.Type,
		"severity", ev.Severity)
	return persistErr
}

// onStatusChange runs on the tracker goroutine and must not block.
func (p *Pipeline) onStatusChange(h telemetry.DeviceHealth) {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	if !p.statusOpen {
		return
	}
	select {
	case p.statusCh <- h:
	default:
		p.statusDropped.Add(1)
		p.logger.Warn("status change dropped", "device_id", h.DeviceID, "status", h.Status)
	}
}

func (p *Pipeline) statusLoop(ctx context.Context) {
	defer close(p.statusDone)
	for h := range p.statusCh {
		p.statusChanges.Add(1)
		if err := p.hub.PublishHealth(ctx, h); err != nil {
			p.broadcastErrors.Add(1)
		}
		if err := p.store.UpdateDeviceHealth(ctx, h); err != nil {
			p.statusErrors.Add(1)
			p.logger.Error("device health not persisted", "device_id", h.DeviceID, "error", err)
		}
		if p.mirror != nil {
			p.mirror.WriteHealth(h)
		}
	}
}

func (p *Pipeline) onStoreAlarm(err error) {
	p.lastAlarm.Store(p.now().UnixNano())
	p.logger.Error("store alarm", "error", err)
}

// Subsystems implements broadcast.StatusProvider.
func (p *Pipeline) Subsystems() map[string]string {
	out := make(map[string]string, 3+len(p.checks))

	out["store"] = "ok"
	if last := p.lastAlarm.Load(); last != 0 && p.now().Sub(time.Unix(0, last)) < degradedFor {
		out["store"] = "write failures"
	}

	m := p.gateway.Metrics()
	out["ingest"] = "ok"
	if float64(m.QueueDepth) >= nearFull*float64(m.QueueCapacity) {
		out["ingest"] = "queue near capacity"
	}

	out["alerting"] = "ok"
	if ds := p.dispatcher.Stats(); ds.Pending > 0 && float64(ds.Pending) >= nearFull*float64(ds.Capacity) {
		out["alerting"] = "queue near capacity"
	}

	for name, check := range p.checks {
		out[name] = "ok"
		if !check() {
			out[name] = "down"
		}
	}
	return out
}

// Stop drains and stops every component in dependency order. The error
// joins every component's failure; ctx bounds the gateway and dispatcher
// drains.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		var errs []error

		if err := p.gateway.Stop(ctx); err != nil {
			errs = append(errs, err)
		}

		p.tracker.Stop()
		p.statusMu.Lock()
		p.statusOpen = false
		close(p.statusCh)
		p.statusMu.Unlock()
		p.startOnce.Do(func() { close(p.statusDone) })
		<-p.statusDone

		if err := p.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
		if err := p.dispatcher.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		p.hub.Close()

		p.stopErr = errors.Join(errs...)
		p.logger.Info("pipeline stopped", "stats", p.Stats())
	})
	return p.stopErr
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Readings:        p.readings.Load(),
		StoreErrors:     p.storeErrors.Load(),
		Anomalies:       p.anomalies.Load(),
		AnomalyErrors:   p.anomalyErrors.Load(),
		AlertsRejected:  p.alertsRejected.Load(),
		StatusChanges:   p.statusChanges.Load(),
		StatusDropped:   p.statusDropped.Load(),
		StatusErrors:    p.statusErrors.Load(),
		BroadcastErrors: p.broadcastErrors.Load(),
	}
}
