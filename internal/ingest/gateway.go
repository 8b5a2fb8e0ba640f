package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/scoring"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Defaults applied by NewGateway for zero Config fields.
const (
	DefaultQueueCapacity = 1000
	DefaultMinSamples    = 100
	DefaultDeviceTimeout = 10 * time.Minute

	maxDefaultWorkers = 8

	// lowQuality replaces the reading quality when scoring failed.
	lowQuality = 0.1

	// defaultAudioQuality applies to audio chunks from devices that have
	// never sent sensor readings.
	defaultAudioQuality = telemetry.DefaultQuality
)

// DefaultSampleRates are the audio sample rates accepted when none are configured.
var DefaultSampleRates = []int{8000, 16000, 44100, 48000}

// Logger defines the logging interface used by the Gateway.
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

// Config controls the gateway.
type Config struct {
	Workers       int
	QueueCapacity int
	MinSamples    int
	SampleRates   []int

	// DeviceTimeout evicts silent devices from the registry. The sweep runs
	// at a quarter of this period.
	DeviceTimeout time.Duration
}

// FromAppConfig converts the ingest section of config.yaml.
func FromAppConfig(c config.IngestConfig) Config {
	return Config{
		Workers:       c.Workers,
		QueueCapacity: c.QueueCapacity,
		MinSamples:    c.MinSamples,
		SampleRates:   c.SampleRates,
		DeviceTimeout: c.DeviceTimeoutPeriod(),
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = min(runtime.NumCPU(), maxDefaultWorkers)
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if len(c.SampleRates) == 0 {
		c.SampleRates = DefaultSampleRates
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = DefaultDeviceTimeout
	}
	return c
}

// Scored is a reading together with its anomaly score, as handed to the
// Processor. ScoreErr is set (wrapping telemetry.ErrScorer) when scoring
// failed; the reading's quality has then been lowered and no anomaly
// evaluation should happen.
type Scored struct {
	Reading  telemetry.Reading
	Score    telemetry.Score
	ScoreErr error
	Priority Priority
}

// Processor receives every scored reading, one device at a time in
// submission order.
type Processor interface {
	Process(ctx context.Context, s Scored) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, s Scored) error

// Process calls f(ctx, s).
func (f ProcessorFunc) Process(ctx context.Context, s Scored) error {
	return f(ctx, s)
}

// Gateway validates and queues submissions and runs the worker pool.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Gateway struct {
	cfg      Config
	scorer   scoring.Scorer
	proc     Processor
	queue    *queue
	registry *Registry
	counters counters
	logger   Logger
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	workCtx   context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	workers   sync.WaitGroup
	bg        sync.WaitGroup
}

// NewGateway creates a gateway. Call Start to launch the workers.
func NewGateway(cfg Config, scorer scoring.Scorer, proc Processor) *Gateway {
	cfg = cfg.withDefaults()
	if scorer == nil {
		scorer = scoring.Nop
	}
	return &Gateway{
		cfg:      cfg,
		scorer:   scorer,
		proc:     proc,
		queue:    newQueue(cfg.QueueCapacity),
		registry: NewRegistry(),
		logger:   noopLogger{},
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the gateway. Call before Start.
func (g *Gateway) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	g.logger = logger
}

// Registry returns the device registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Start launches the worker pool and the registry cleanup sweep. Workers
// keep running after ctx is cancelled until Stop drains the queue.
func (g *Gateway) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		g.workCtx, g.cancel = context.WithCancel(context.WithoutCancel(ctx))

		for i := range g.cfg.Workers {
			g.workers.Add(1)
			go g.worker(i)
		}

		g.bg.Add(1)
		go g.cleanupLoop(ctx)

		g.logger.Info("ingest gateway started",
			"workers", g.cfg.Workers,
			"queue_capacity", g.cfg.QueueCapacity)
	})
}

// Submit validates an audio chunk and queues it. It never blocks: invalid
// input returns telemetry.ErrInvalidReading and a full queue returns
// telemetry.ErrBackpressure, both with accepted=false. raw must not be
// modified after a successful Submit.
func (g *Gateway) Submit(deviceID string, raw []byte, sampleRate int, priority Priority) (bool, error) {
	g.counters.received.Add(1)

	if err := telemetry.ValidateChunk(deviceID, raw, sampleRate, g.cfg.SampleRates, g.cfg.MinSamples); err != nil {
		g.counters.rejected.Add(1)
		return false, err
	}

	return g.enqueue(&item{
		deviceID:   deviceID,
		priority:   priority,
		enqueued:   g.now(),
		audio:      raw,
		sampleRate: sampleRate,
		isAudio:    true,
	})
}

// SubmitReading validates a structured reading and queues it.
func (g *Gateway) SubmitReading(r telemetry.Reading, priority Priority) (bool, error) {
	g.counters.received.Add(1)

	r = r.Normalize()
	if err := r.Validate(); err != nil {
		g.counters.rejected.Add(1)
		return false, err
	}

	return g.enqueue(&item{
		deviceID: r.DeviceID,
		priority: priority,
		enqueued: g.now(),
		reading:  r,
	})
}

func (g *Gateway) enqueue(it *item) (bool, error) {
	if err := g.queue.push(it); err != nil {
		if errors.Is(err, telemetry.ErrBackpressure) {
			g.counters.backpressure.Add(1)
		}
		return false, err
	}

	var sensors *telemetry.Reading
	if !it.isAudio {
		sensors = &it.reading
	}
	g.registry.observe(it.deviceID, it.sampleRate, sensors)
	return true, nil
}

func (g *Gateway) worker(id int) {
	defer g.workers.Done()

	for {
		it, ok := g.queue.pop()
		if !ok {
			return
		}
		g.handle(id, it)
		g.queue.done(it.deviceID)
	}
}

// handle processes one item. A panic anywhere downstream is contained here
// so the worker survives.
func (g *Gateway) handle(workerID int, it *item) {
	defer func() {
		if rec := recover(); rec != nil {
			g.counters.failed.Add(1)
			g.logger.Error("ingest worker panic",
				"worker", workerID,
				"device_id", it.deviceID,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
		}
	}()
	defer func() { g.counters.observeLatency(g.now().Sub(it.enqueued)) }()

	s := Scored{Reading: g.buildReading(it), Priority: it.priority}

	score, err := g.scorer.Score(g.workCtx, s.Reading)
	if err != nil {
		if !errors.Is(err, telemetry.ErrScorer) {
			err = fmt.Errorf("%w: %w", telemetry.ErrScorer, err)
		}
		s.ScoreErr = err
		s.Reading.Quality = min(s.Reading.Quality, lowQuality)
		g.logger.Warn("scoring failed", "device_id", it.deviceID, "error", err)
	} else {
		s.Score = score
	}

	if g.proc != nil {
		if perr := g.proc.Process(g.workCtx, s); perr != nil {
			g.counters.failed.Add(1)
			g.logger.Warn("processing failed", "device_id", it.deviceID, "error", perr)
			return
		}
	}

	if s.ScoreErr != nil {
		g.counters.failed.Add(1)
		return
	}
	g.counters.processed.Add(1)
}

// buildReading turns a queued item into a reading. Audio chunks take the
// receipt time as timestamp and the last known sensor channels.
func (g *Gateway) buildReading(it *item) telemetry.Reading {
	if !it.isAudio {
		return it.reading
	}

	r := telemetry.Reading{Quality: defaultAudioQuality}
	if last, ok := g.registry.lastSensors(it.deviceID); ok {
		r = last
	}
	r.DeviceID = it.deviceID
	r.Timestamp = it.enqueued.UTC().Round(0)
	r.AudioLevel = telemetry.RMS(telemetry.DecodePCM16LE(it.audio))
	r.AudioChunk = true
	return r
}

func (g *Gateway) cleanupLoop(ctx context.Context) {
	defer g.bg.Done()

	ticker := time.NewTicker(g.cfg.DeviceTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := g.registry.Cleanup(g.cfg.DeviceTimeout); n > 0 {
				g.logger.Info("evicted silent devices", "count", n, "timeout", g.cfg.DeviceTimeout)
			}
		case <-g.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Metrics returns a snapshot of the gateway counters.
func (g *Gateway) Metrics() Metrics {
	return Metrics{
		Received:          g.counters.received.Load(),
		ProcessedChunks:   g.counters.processed.Load(),
		FailedChunks:      g.counters.failed.Load(),
		Rejected:          g.counters.rejected.Load(),
		BackpressureDrops: g.counters.backpressure.Load(),
		QueueDepth:        g.queue.len(),
		QueueCapacity:     g.cfg.QueueCapacity,
		Workers:           g.cfg.Workers,
		Devices:           g.registry.Len(),
		AvgLatencyMS:      g.counters.avgLatencyMS(),
	}
}

// Stop rejects new submissions, lets the workers drain what is queued and
// waits for them. If ctx expires first, in-flight work is cancelled and
// ctx's error is returned; queued items that were not reached are lost.
func (g *Gateway) Stop(ctx context.Context) error {
	var err error
	g.stopOnce.Do(func() {
		g.queue.close()
		close(g.stop)

		drained := make(chan struct{})
		go func() {
			g.workers.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			lost := g.queue.discard()
			err = fmt.Errorf("draining ingest queue (%d items lost): %w", lost, ctx.Err())
		}
		if g.cancel != nil {
			g.cancel()
		}
		g.bg.Wait()

		g.logger.Info("ingest gateway stopped", "processed", g.counters.processed.Load())
	})
	return err
}
