package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

const insertAnomaly = `
	INSERT INTO anomalies (id, device_id, ts, anomaly_type, severity, confidence, description, reading)
	VALUES (:id, :device_id, :ts, :anomaly_type, :severity, :confidence, :description, :reading)
	ON CONFLICT (id) DO NOTHING`

// AddAnomaly persists an anomaly event synchronously. Transient failures are
// retried with exponential backoff up to AnomalyMaxAttempts; after that the
// failure is counted, raised through the alarm callback and returned
// wrapping telemetry.ErrStoreWrite.
func (s *Store) AddAnomaly(ctx context.Context, ev telemetry.AnomalyEvent) error {
	if s.closed.Load() {
		return ErrClosed
	}

	row, err := toAnomalyRow(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", telemetry.ErrStoreWrite, err)
	}

	delay := s.cfg.AnomalyBackoffInitial
	for attempt := 1; ; attempt++ {
		_, err = s.db.NamedExecContext(ctx, insertAnomaly, row)
		if err == nil {
			break
		}
		if attempt >= s.cfg.AnomalyMaxAttempts || ctx.Err() != nil {
			s.anomalyFailures.Add(1)
			werr := fmt.Errorf("%w: anomaly %s after %d attempts: %w", telemetry.ErrStoreWrite, ev.ID, attempt, err)
			s.alarm(werr)
			return werr
		}

		s.log().Debug("anomaly write failed, backing off",
			"anomaly_id", ev.ID, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
		delay = min(delay*2, s.cfg.AnomalyBackoffMax)
	}

	s.anomaliesWritten.Add(1)
	if m := s.currentMirror(); m != nil {
		m.WriteAnomaly(ev)
	}
	return nil
}

// AnomalyFilter narrows QueryAnomalies. Zero fields do not filter.
type AnomalyFilter struct {
	DeviceID    string
	Type        telemetry.AnomalyType
	MinSeverity telemetry.Severity
	Start       time.Time
	End         time.Time
	Limit       int
}

// QueryAnomalies returns matching anomaly events, newest first.
func (s *Store) QueryAnomalies(ctx context.Context, f AnomalyFilter) ([]telemetry.AnomalyEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.Type != "" {
		where = append(where, "anomaly_type = ?")
		args = append(args, string(f.Type))
	}
	if f.MinSeverity != "" {
		where = append(where, "severity IN (?)")
		args = append(args, severitiesAtLeast(f.MinSeverity))
	}
	if !f.Start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Start.UnixNano())
	}
	if !f.End.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.End.UnixNano())
	}

	q := `SELECT id, device_id, ts, anomaly_type, severity, confidence, description, reading FROM anomalies`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts DESC, id LIMIT ?"
	args = append(args, clampLimit(f.Limit))

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, fmt.Errorf("expanding anomaly query: %w", err)
	}

	var rows []anomalyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("querying anomalies: %w", err)
	}

	events := make([]telemetry.AnomalyEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.event()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func severitiesAtLeast(floor telemetry.Severity) []string {
	all := []telemetry.Severity{
		telemetry.SeverityLow,
		telemetry.SeverityMedium,
		telemetry.SeverityHigh,
		telemetry.SeverityCritical,
	}
	out := make([]string, 0, len(all))
	for _, sev := range all {
		if sev.AtLeast(floor) {
			out = append(out, string(sev))
		}
	}
	return out
}
