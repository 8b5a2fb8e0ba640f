package alerting

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Dispatcher defaults.
const (
	DefaultMinSeverity = telemetry.SeverityHigh
	DefaultCooldown    = 5 * time.Minute
	DefaultQueueSize   = 256

	sendTimeout = 15 * time.Second
)

// Config controls the dispatcher gate and queue.
type Config struct {
	MinSeverity telemetry.Severity
	Cooldown    time.Duration
	QueueSize   int
}

// FromAppConfig converts the alerting section of config.yaml. An invalid
// min_severity falls back to the default; config.Validate rejects it first.
func FromAppConfig(c config.AlertingConfig) Config {
	sev, err := telemetry.ParseSeverity(c.MinSeverity)
	if err != nil {
		sev = DefaultMinSeverity
	}
	return Config{
		MinSeverity: sev,
		Cooldown:    c.CooldownPeriod(),
		QueueSize:   c.QueueSize,
	}
}

func (c Config) withDefaults() Config {
	if c.MinSeverity == "" {
		c.MinSeverity = DefaultMinSeverity
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Stats reports dispatcher counters.
type Stats struct {
	Received       int64 `json:"received"`
	BelowSeverity  int64 `json:"below_severity"`
	CooledDown     int64 `json:"cooled_down"`
	Dropped        int64 `json:"dropped"`
	Delivered      int64 `json:"delivered"`
	DeliveryErrors int64 `json:"delivery_errors"`
	Pending        int   `json:"pending"`
	Capacity       int   `json:"capacity"`
	Sinks          int   `json:"sinks"`
}

type cooldownKey struct {
	deviceID string
	typ      telemetry.AnomalyType
}

// Dispatcher gates anomaly events and delivers them to every sink from a
// single goroutine.
type Dispatcher struct {
	cfg    Config
	sinks  []Sink
	logger Logger
	now    func() time.Time

	minSeverity atomic.Value // telemetry.Severity

	mu       sync.Mutex
	lastSent map[cooldownKey]time.Time
	stopped  bool
	queue    chan telemetry.AnomalyEvent

	startOnce sync.Once
	done      chan struct{}

	received, belowSeverity, cooledDown, dropped atomic.Int64
	delivered, deliveryErrors                    atomic.Int64
}

// NewDispatcher creates a dispatcher over sinks. Call Start to begin delivery.
func NewDispatcher(cfg Config, sinks []Sink) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:      cfg,
		sinks:    sinks,
		logger:   noopLogger{},
		now:      time.Now,
		lastSent: make(map[cooldownKey]time.Time),
		queue:    make(chan telemetry.AnomalyEvent, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	d.minSeverity.Store(cfg.MinSeverity)
	return d
}

// SetLogger sets the logger. Call before Start.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// SetMinSeverity changes the severity gate. Safe to call at any time.
func (d *Dispatcher) SetMinSeverity(sev telemetry.Severity) {
	d.minSeverity.Store(sev)
}

// MinSeverity returns the current severity gate.
func (d *Dispatcher) MinSeverity() telemetry.Severity {
	sev, _ := d.minSeverity.Load().(telemetry.Severity)
	return sev
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(context.WithoutCancel(ctx))
		d.logger.Info("alert dispatcher started",
			"sinks", len(d.sinks),
			"min_severity", d.MinSeverity(),
			"cooldown", d.cfg.Cooldown)
	})
}

// Notify queues ev for delivery if it passes the severity gate and is not
// within the cooldown of an earlier event with the same device and type.
// It reports whether ev was queued. Only a stopped dispatcher or a full
// queue produce an error.
func (d *Dispatcher) Notify(ev telemetry.AnomalyEvent) (bool, error) {
	d.received.Add(1)

	if !ev.Severity.AtLeast(d.MinSeverity()) {
		d.belowSeverity.Add(1)
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false, ErrStopped
	}

	key := cooldownKey{deviceID: ev.DeviceID, typ: ev.Type}
	now := d.now()
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cfg.Cooldown {
		d.cooledDown.Add(1)
		return false, nil
	}

	select {
	case d.queue <- ev:
		d.lastSent[key] = now
		return true, nil
	default:
		d.dropped.Add(1)
		return false, fmt.Errorf("%w: %d pending", ErrQueueFull, len(d.queue))
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for ev := range d.queue {
		d.deliver(ctx, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev telemetry.AnomalyEvent) {
	for _, s := range d.sinks {
		if err := d.send(ctx, s, ev); err != nil {
			d.deliveryErrors.Add(1)
			d.logger.Error("alert delivery failed",
				"sink", s.Name(),
				"anomaly_id", ev.ID,
				"device_id", ev.DeviceID,
				"error", fmt.Errorf("%w: %w", ErrDeliveryFailed, err))
			continue
		}
		d.delivered.Add(1)
		d.logger.Debug("alert delivered", "sink", s.Name(), "anomaly_id", ev.ID)
	}
}

func (d *Dispatcher) send(ctx context.Context, s Sink, ev telemetry.AnomalyEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return s.Send(sendCtx, ev)
}

// Stop rejects further events and waits for queued ones to be delivered.
// If ctx expires first the remaining events are abandoned and ctx's error
// is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	// Never started: nothing will drain the queue.
	d.startOnce.Do(func() { close(d.done) })

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alerting: stop: %d events undelivered: %w", len(d.queue), ctx.Err())
	}
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:       d.received.Load(),
		BelowSeverity:  d.belowSeverity.Load(),
		CooledDown:     d.cooledDown.Load(),
		Dropped:        d.dropped.Load(),
		Delivered:      d.delivered.Load(),
		DeliveryErrors: d.deliveryErrors.Load(),
		Pending:        len(d.queue),
		Capacity:       cap(d.queue),
		Sinks:          len(d.sinks),
	}
}
