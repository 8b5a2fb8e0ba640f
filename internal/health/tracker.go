package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Logger defines the logging interface used by the Tracker.
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

// Result is what the tracker concluded about one reading.
type Result struct {
	// Events are the anomalies triggered by the reading, in rule order.
	Events []telemetry.AnomalyEvent

	// Health is the device snapshot after the reading was applied.
	Health telemetry.DeviceHealth

	// Stale is set when the reading was not newer than the device's latest
	// evaluated reading and was therefore ignored.
	Stale bool
}

// Stats reports tracker counters.
type Stats struct {
	Devices   int   `json:"devices"`
	Evaluated int64 `json:"evaluated"`
	Stale     int64 `json:"stale"`
	Events    int64 `json:"events"`
	Offline   int   `json:"offline"`
}

type deviceState struct {
	health telemetry.DeviceHealth
	window *window
	latest time.Time
	// prior is the channel-derived status to restore when an offline
	// device is heard from again without a fresh evaluation.
	prior telemetry.Status
}

// Tracker maintains DeviceHealth for every device. All state is owned by
// the goroutine started in Start; public methods are safe for concurrent use.
type Tracker struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	onStatusChange func(telemetry.DeviceHealth)

	ops      chan func()
	done     chan struct{}
	exited   chan struct{}
	wg       sync.WaitGroup
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once

	// Owned by the run goroutine.
	devices map[string]*deviceState
	rules   Rules
	stats   Stats
}

// NewTracker creates a Tracker. Call Start before using it.
func NewTracker(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:     cfg,
		logger:  noopLogger{},
		now:     time.Now,
		ops:     make(chan func()),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		devices: make(map[string]*deviceState),
		rules:   cfg.Rules,
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// SetOnStatusChange registers a callback invoked whenever a device's
// status changes, including the first reading of a new device and offline
// transitions. It runs on the tracker goroutine, so it must not block and
// must not call back into the Tracker.
func (t *Tracker) SetOnStatusChange(fn func(telemetry.DeviceHealth)) {
	t.onStatusChange = fn
}

// setClock replaces the time source. Tests only; call before Start.
func (t *Tracker) setClock(now func() time.Time) {
	t.now = now
}

// Start launches the owner goroutine and the offline sweep.
func (t *Tracker) Start(ctx context.Context) {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.started {
		return
	}
	t.started = true

	t.wg.Add(1)
	go t.run(ctx)
}

// Stop terminates the owner goroutine. Calls made after Stop return
// ErrStopped.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.exited)

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case op := <-t.ops:
			op()
		case <-ticker.C:
			t.sweep(t.now())
		}
	}
}

// exec runs fn on the owner goroutine and waits for it to finish.
func (t *Tracker) exec(ctx context.Context, fn func()) error {
	t.startMu.Lock()
	started := t.started
	t.startMu.Unlock()
	if !started {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	select {
	case t.ops <- func() { fn(); close(finished) }:
	case <-t.exited:
		return ErrStopped
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Evaluate applies the health rules to r and returns the anomalies it
// triggered. Readings are evaluated in call order per device.
func (t *Tracker) Evaluate(ctx context.Context, r telemetry.Reading) ([]telemetry.AnomalyEvent, error) {
	res, err := t.EvaluateScored(ctx, r, nil)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

// EvaluateScored is Evaluate with the scorer's opinion of the reading,
// which may add a scorer-derived event. score may be nil.
func (t *Tracker) EvaluateScored(ctx context.Context, r telemetry.Reading, score *telemetry.Score) (Result, error) {
	r = r.Normalize()
	var res Result
	err := t.exec(ctx, func() {
		res = t.evaluate(r, score)
	})
	return res, err
}

// Touch records that a device was heard from without evaluating rules,
// e.g. when the scorer failed. It brings an offline device back to its
// last evaluated status.
func (t *Tracker) Touch(ctx context.Context, deviceID string) error {
	return t.exec(ctx, func() {
		st, ok := t.devices[deviceID]
		if !ok {
			return
		}
		now := t.now()
		st.health.LastSeen = now
		st.health.UpdatedAt = now
		if st.health.Status == telemetry.StatusOffline {
			t.setStatus(st, st.prior)
		}
	})
}

// Health returns a copy of one device's health snapshot.
func (t *Tracker) Health(ctx context.Context, deviceID string) (telemetry.DeviceHealth, bool, error) {
	var (
		h  telemetry.DeviceHealth
		ok bool
	)
	err := t.exec(ctx, func() {
		var st *deviceState
		st, ok = t.devices[deviceID]
		if ok {
			h = copyHealth(st.health)
		}
	})
	return h, ok, err
}

// Snapshot returns copies of every device's health, sorted by device ID.
func (t *Tracker) Snapshot(ctx context.Context) ([]telemetry.DeviceHealth, error) {
	var out []telemetry.DeviceHealth
	err := t.exec(ctx, func() {
		out = make([]telemetry.DeviceHealth, 0, len(t.devices))
		for _, st := range t.devices {
			out = append(out, copyHealth(st.health))
		}
	})
	slices.SortFunc(out, func(a, b telemetry.DeviceHealth) int {
		switch {
		case a.DeviceID < b.DeviceID:
			return -1
		case a.DeviceID > b.DeviceID:
			return 1
		}
		return 0
	})
	return out, err
}

// Sweep runs the offline check immediately against now.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) error {
	return t.exec(ctx, func() { t.sweep(now) })
}

// SetRules replaces the threshold set. Readings already evaluated keep
// their results; the next reading uses the new rules.
func (t *Tracker) SetRules(ctx context.Context, rules Rules) error {
	return t.exec(ctx, func() {
		t.rules = rules
		t.logger.Info("health rules updated")
	})
}

// Stats returns tracker counters.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := t.exec(ctx, func() {
		s = t.stats
		s.Devices = len(t.devices)
		s.Offline = 0
		for _, st := range t.devices {
			if st.health.Status == telemetry.StatusOffline {
				s.Offline++
			}
		}
	})
	return s, err
}

// evaluate runs on the owner goroutine.
func (t *Tracker) evaluate(r telemetry.Reading, score *telemetry.Score) Result {
	st, ok := t.devices[r.DeviceID]
	if !ok {
		st = &deviceState{
			window: newWindow(t.cfg.WindowSize),
			health: telemetry.DeviceHealth{
				DeviceID:      r.DeviceID,
				Status:        telemetry.StatusNormal,
				OverallHealth: scoreNormal,
			},
			prior: telemetry.StatusNormal,
		}
		t.devices[r.DeviceID] = st
	}

	if !st.latest.IsZero() && !r.Timestamp.After(st.latest) {
		t.stats.Stale++
		t.logger.Debug("ignoring stale reading", "device_id", r.DeviceID,
			"timestamp", r.Timestamp, "latest", st.latest)
		return Result{Health: copyHealth(st.health), Stale: true}
	}
	st.latest = r.Timestamp
	st.window.push(r)
	t.stats.Evaluated++

	out := t.rules.evaluate(r, st.window, score)

	open := make([]telemetry.AnomalyType, 0, len(out.events))
	for _, ev := range out.events {
		open = append(open, ev.Type)
	}

	now := t.now()
	st.health.LastSeen = now
	st.health.UpdatedAt = now
	st.health.Channels = out.channels
	st.health.OpenAnomalies = open
	st.health.AnomalyCount += len(out.events)
	st.health.OverallHealth = overallHealth(out.channels, r.Quality, len(open))
	t.stats.Events += int64(len(out.events))

	status := out.channels.Worst()
	st.prior = status
	if !ok || st.health.Status != status {
		t.setStatus(st, status)
	}

	return Result{Events: out.events, Health: copyHealth(st.health)}
}

func (t *Tracker) sweep(now time.Time) {
	for id, st := range t.devices {
		if st.health.Status == telemetry.StatusOffline {
			continue
		}
		if now.Sub(st.health.LastSeen) > t.cfg.OfflineAfter {
			t.logger.Warn("device offline", "device_id", id, "last_seen", st.health.LastSeen)
			st.health.UpdatedAt = now
			t.setStatus(st, telemetry.StatusOffline)
		}
	}
}

func (t *Tracker) setStatus(st *deviceState, status telemetry.Status) {
	prev := st.health.Status
	st.health.Status = status
	if prev != status {
		t.logger.Info("device status changed", "device_id", st.health.DeviceID, "from", prev, "to", status)
	}
	if t.onStatusChange != nil {
		t.onStatusChange(copyHealth(st.health))
	}
}

func copyHealth(h telemetry.DeviceHealth) telemetry.DeviceHealth {
	h.OpenAnomalies = slices.Clone(h.OpenAnomalies)
	return h
}
