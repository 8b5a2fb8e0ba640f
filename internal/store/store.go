package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// flushTimeout bounds one batch write, including its retry.
const flushTimeout = 10 * time.Second

// Logger defines the logging interface used by the Store.
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

// Mirror receives committed writes. Implementations must not block for long;
// the InfluxDB client batches internally.
type Mirror interface {
	WriteReading(r telemetry.Reading)
	WriteAnomaly(ev telemetry.AnomalyEvent)
}

// Stats reports store counters.
type Stats struct {
	Pending          int   `json:"pending"`
	ReadingsWritten  int64 `json:"readings_written"`
	ReadingsDropped  int64 `json:"readings_dropped"`
	Flushes          int64 `json:"flushes"`
	FlushErrors      int64 `json:"flush_errors"`
	AnomaliesWritten int64 `json:"anomalies_written"`
	AnomalyFailures  int64 `json:"anomaly_failures"`
}

// Store persists readings, anomalies and device records.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	db  *sqlx.DB
	raw *database.DB
	cfg Config

	mu      sync.RWMutex
	logger  Logger
	mirror  Mirror
	onAlarm func(err error)
	now     func() time.Time

	// Batching. closed is only set with batchMu held, so a reading that
	// made it into batch is seen by Close's final flush.
	batch    []telemetry.Reading
	batchMu  sync.Mutex
	flushMu  sync.Mutex
	flushNow chan struct{}

	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	readingsWritten  atomic.Int64
	readingsDropped  atomic.Int64
	flushes          atomic.Int64
	flushErrors      atomic.Int64
	anomaliesWritten atomic.Int64
	anomalyFailures  atomic.Int64
}

// New wraps an open, migrated database.
func New(db *database.DB, cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		db:     sqlx.NewDb(db.DB, database.DriverName),
		raw:    db,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
		batch:    make([]telemetry.Reading, 0, cfg.BatchSize),
		flushNow: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// SetMirror sets a secondary sink for committed writes.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// SetOnAlarm sets a callback invoked when a write is finally given up on:
// a dropped reading batch or an anomaly that exhausted its retries.
func (s *Store) SetOnAlarm(callback func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAlarm = callback
}

func (s *Store) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *Store) currentMirror() Mirror {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror
}

func (s *Store) alarm(err error) {
	s.mu.RLock()
	callback := s.onAlarm
	s.mu.RUnlock()

	s.log().Error("store write abandoned", "error", err)
	if callback != nil {
		callback(err)
	}
}

// Start launches the background flush loop and, when retention is
// configured, the cleanup loop. Calling Start more than once is a no-op.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.flushLoop(ctx)

		if s.cfg.RetentionDays > 0 && s.cfg.CleanupInterval > 0 {
			s.wg.Add(1)
			go s.cleanupLoop(ctx)
		}
	})
}

func (s *Store) flushLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushBackground()
		case <-s.flushNow:
			s.flushBackground()
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.Cleanup(ctx, s.cfg.RetentionDays)
			if err != nil {
				s.log().Warn("retention cleanup failed", "error", err)
				continue
			}
			if res.Readings > 0 || res.Anomalies > 0 {
				s.log().Info("retention cleanup",
					"readings", res.Readings,
					"anomalies", res.Anomalies,
					"retention_days", s.cfg.RetentionDays)
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) flushBackground() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	_ = s.Flush(ctx) //nolint:errcheck // Failures are counted and raised through the alarm callback
}

// AddReading appends a reading to the pending batch and never blocks on
// the database. A full batch wakes the flush loop started by Start;
// otherwise the loop writes it after BatchTimeout.
func (s *Store) AddReading(r telemetry.Reading) error {
	s.batchMu.Lock()
	if s.closed.Load() {
		s.batchMu.Unlock()
		return ErrClosed
	}
	s.batch = append(s.batch, r)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if full {
		select {
		case s.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush writes all pending readings. A failed write is retried once; if the
// retry fails too, the batch is dropped, counted and reported through the
// alarm callback. Only one flush executes at a time.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return nil
	}
	// Swap batch out under lock
	readings := s.batch
	s.batch = make([]telemetry.Reading, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	s.flushes.Add(1)
	err := s.writeReadings(ctx, readings)
	if err != nil {
		s.flushErrors.Add(1)
		s.log().Warn("reading batch write failed, retrying", "count", len(readings), "error", err)
		err = s.writeReadings(ctx, readings)
	}
	if err != nil {
		s.flushErrors.Add(1)
		s.readingsDropped.Add(int64(len(readings)))
		werr := fmt.Errorf("%w: dropped %d readings: %w", telemetry.ErrStoreWrite, len(readings), err)
		s.alarm(werr)
		return werr
	}

	s.readingsWritten.Add(int64(len(readings)))
	if m := s.currentMirror(); m != nil {
		for _, r := range readings {
			m.WriteReading(r)
		}
	}
	return nil
}

const upsertReading = `
	INSERT INTO readings (device_id, ts, temperature, vib_x, vib_y, vib_z, power, audio_level, quality)
	VALUES (:device_id, :ts, :temperature, :vib_x, :vib_y, :vib_z, :power, :audio_level, :quality)
	ON CONFLICT (device_id, ts) DO UPDATE SET
		temperature = excluded.temperature,
		vib_x       = excluded.vib_x,
		vib_y       = excluded.vib_y,
		vib_z       = excluded.vib_z,
		power       = excluded.power,
		audio_level = excluded.audio_level,
		quality     = excluded.quality`

func (s *Store) writeReadings(ctx context.Context, readings []telemetry.Reading) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	stmt, err := tx.PrepareNamedContext(ctx, upsertReading)
	if err != nil {
		return fmt.Errorf("preparing reading upsert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Closed with the transaction

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, toReadingRow(r)); err != nil {
			return fmt.Errorf("upserting reading %s@%d: %w", r.DeviceID, r.Timestamp.UnixNano(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing readings: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.batchMu.Lock()
	pending := len(s.batch)
	s.batchMu.Unlock()

	return Stats{
		Pending:          pending,
		ReadingsWritten:  s.readingsWritten.Load(),
		ReadingsDropped:  s.readingsDropped.Load(),
		Flushes:          s.flushes.Load(),
		FlushErrors:      s.flushErrors.Load(),
		AnomaliesWritten: s.anomaliesWritten.Load(),
		AnomalyFailures:  s.anomalyFailures.Load(),
	}
}

// Close stops the background loops and flushes what is still pending.
// The underlying database is left open; its owner closes it.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		s.batchMu.Lock()
		s.closed.Store(true)
		s.batchMu.Unlock()

		close(s.done)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err = s.Flush(ctx)
	})
	return err
}
