package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// CleanupResult reports rows removed by Cleanup.
type CleanupResult struct {
	Readings  int64     `json:"readings"`
	Anomalies int64     `json:"anomalies"`
	Cutoff    time.Time `json:"cutoff"`
}

// Query returns a device's readings with start <= timestamp <= end in
// ascending time order. A zero start or end leaves that side open. Limit
// defaults to 1000 and is capped at 10000.
func (s *Store) Query(ctx context.Context, deviceID string, start, end time.Time, limit int) ([]telemetry.Reading, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !start.IsZero() {
		lo = start.UnixNano()
	}
	if !end.IsZero() {
		hi = end.UnixNano()
	}
	if lo > hi {
		return []telemetry.Reading{}, nil
	}

	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT device_id, ts, temperature, vib_x, vib_y, vib_z, power, audio_level, quality
		FROM readings
		WHERE device_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
		LIMIT ?`, deviceID, lo, hi, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying readings for %s: %w", deviceID, err)
	}

	readings := make([]telemetry.Reading, len(rows))
	for i, row := range rows {
		readings[i] = row.reading()
	}
	return readings, nil
}

// Latest returns the newest n readings of a device, oldest first.
func (s *Store) Latest(ctx context.Context, deviceID string, n int) ([]telemetry.Reading, error) {
	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT device_id, ts, temperature, vib_x, vib_y, vib_z, power, audio_level, quality
		FROM readings
		WHERE device_id = ?
		ORDER BY ts DESC
		LIMIT ?`, deviceID, clampLimit(n))
	if err != nil {
		return nil, fmt.Errorf("querying latest readings for %s: %w", deviceID, err)
	}

	readings := make([]telemetry.Reading, len(rows))
	for i, row := range rows {
		readings[len(rows)-1-i] = row.reading()
	}
	return readings, nil
}

// Cleanup deletes readings and anomalies older than the given number of
// days, then checkpoints the WAL so the space is released.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (CleanupResult, error) {
	if olderThanDays <= 0 {
		return CleanupResult{}, fmt.Errorf("cleanup: retention must be positive, got %d days", olderThanDays)
	}

	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	res := CleanupResult{Cutoff: cutoff.UTC()}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("starting cleanup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	r, err := tx.ExecContext(ctx, "DELETE FROM readings WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return res, fmt.Errorf("deleting old readings: %w", err)
	}
	res.Readings, _ = r.RowsAffected() //nolint:errcheck // sqlite always reports affected rows

	a, err := tx.ExecContext(ctx, "DELETE FROM anomalies WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return res, fmt.Errorf("deleting old anomalies: %w", err)
	}
	res.Anomalies, _ = a.RowsAffected() //nolint:errcheck // sqlite always reports affected rows

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("committing cleanup: %w", err)
	}

	if err := s.raw.Checkpoint(ctx); err != nil {
		s.log().Warn("checkpoint after cleanup failed", "error", err)
	}
	return res, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return limit
	}
}
