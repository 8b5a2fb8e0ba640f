package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// RegisterDevice records a device in the catalogue, or refreshes the
// address and sample rate of one already known. Health columns are left
// alone on refresh.
func (s *Store) RegisterDevice(ctx context.Context, id, addr string, sampleRate int) error {
	now := s.now().UnixNano()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO devices (id, addr, sample_rate, status, overall_health, first_seen, last_seen, updated_at)
		VALUES (:id, :addr, :sample_rate, :status, :overall_health, :first_seen, :last_seen, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			addr        = excluded.addr,
			sample_rate = excluded.sample_rate,
			last_seen   = excluded.last_seen,
			updated_at  = excluded.updated_at`,
		deviceRow{
			ID:            id,
			Addr:          addr,
			SampleRate:    sampleRate,
			Status:        string(telemetry.StatusNormal),
			OverallHealth: 100,
			FirstSeen:     now,
			LastSeen:      now,
			UpdatedAt:     now,
		})
	if err != nil {
		return fmt.Errorf("registering device %s: %w", id, err)
	}
	return nil
}

// UpdateDeviceHealth writes the tracker's view of a device into the
// catalogue, creating the row if the device was never registered.
func (s *Store) UpdateDeviceHealth(ctx context.Context, h telemetry.DeviceHealth) error {
	now := s.now().UnixNano()
	lastSeen := h.LastSeen.UnixNano()
	if h.LastSeen.IsZero() {
		lastSeen = now
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO devices (id, status, overall_health, first_seen, last_seen, updated_at)
		VALUES (:id, :status, :overall_health, :first_seen, :last_seen, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			status         = excluded.status,
			overall_health = excluded.overall_health,
			last_seen      = excluded.last_seen,
			updated_at     = excluded.updated_at`,
		deviceRow{
			ID:            h.DeviceID,
			Status:        string(h.Status),
			OverallHealth: h.OverallHealth,
			FirstSeen:     lastSeen,
			LastSeen:      lastSeen,
			UpdatedAt:     now,
		})
	if err != nil {
		return fmt.Errorf("updating health of %s: %w", h.DeviceID, err)
	}
	return nil
}

// GetDevice returns one catalogue entry.
func (s *Store) GetDevice(ctx context.Context, id string) (DeviceRecord, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, addr, sample_rate, status, overall_health, first_seen, last_seen, updated_at
		FROM devices WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceRecord{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("getting device %s: %w", id, err)
	}
	return row.record(), nil
}

// ListDevices returns the catalogue ordered by ID.
func (s *Store) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	var rows []deviceRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, addr, sample_rate, status, overall_health, first_seen, last_seen, updated_at
		FROM devices ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	out := make([]DeviceRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}
