// Package audit records operator-visible changes: device registrations,
// configuration reloads and similar actions that alter how telemetry is
// handled. Entries live in the audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/database"
)

// Actions recorded by ColdWatch.
const (
	ActionDeviceRegistered = "device_registered"
	ActionConfigReloaded   = "config_reloaded"
)

// Sources identify where an action originated.
const (
	SourceAPI    = "api"
	SourceConfig = "config"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrInvalidEntry is returned by Record for entries without an action or source.
var ErrInvalidEntry = errors.New("audit: entry requires action and source")

// Entry is a single audit trail record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	DeviceID  string         `json:"device_id,omitempty"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter selects entries for List. Zero fields match everything.
type Filter struct {
	Action   string
	DeviceID string
	Limit    int // default 50, max 200
	Offset   int
}

// Page is one page of List results, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

type entryRow struct {
	ID        string         `db:"id"`
	Action    string         `db:"action"`
	DeviceID  sql.NullString `db:"device_id"`
	Source    string         `db:"source"`
	Details   sql.NullString `db:"details"`
	CreatedAt int64          `db:"created_at"`
}

func (r entryRow) entry() Entry {
	e := Entry{
		ID:        r.ID,
		Action:    r.Action,
		DeviceID:  r.DeviceID.String,
		Source:    r.Source,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
	if r.Details.Valid && r.Details.String != "" {
		var details map[string]any
		if json.Unmarshal([]byte(r.Details.String), &details) == nil {
			e.Details = details
		}
	}
	return e
}

// Log writes and reads the audit trail.
//
// Thread Safety: All methods are safe for concurrent use.
type Log struct {
	db  *sqlx.DB
	now func() time.Time
}

// New creates a Log over an open, migrated database.
func New(db *database.DB) *Log {
	return &Log{
		db:  sqlx.NewDb(db.DB, database.DriverName),
		now: time.Now,
	}
}

// Record inserts e. ID and CreatedAt are generated when empty.
func (l *Log) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Action == "" || e.Source == "" {
		return Entry{}, ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}

	row := entryRow{
		ID:        e.ID,
		Action:    e.Action,
		DeviceID:  sql.NullString{String: e.DeviceID, Valid: e.DeviceID != ""},
		Source:    e.Source,
		CreatedAt: e.CreatedAt.UnixNano(),
	}
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return Entry{}, fmt.Errorf("marshalling audit details: %w", err)
		}
		row.Details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := l.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (id, action, device_id, source, details, created_at)
		VALUES (:id, :action, :device_id, :source, :details, :created_at)`, row)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting audit entry: %w", err)
	}
	return e, nil
}

// List returns entries matching f, newest first.
func (l *Log) List(ctx context.Context, f Filter) (Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var conditions []string
	var args []any
	if f.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, f.Action)
	}
	if f.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	//nolint:gosec // WHERE built from parameterised conditions, not user input
	if err := l.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_log "+where, args...); err != nil {
		return Page{}, fmt.Errorf("counting audit entries: %w", err)
	}

	var rows []entryRow
	//nolint:gosec // WHERE built from parameterised conditions, not user input
	query := "SELECT id, action, device_id, source, details, created_at FROM audit_log " + where +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	if err := l.db.SelectContext(ctx, &rows, query, append(args, f.Limit, f.Offset)...); err != nil {
		return Page{}, fmt.Errorf("querying audit entries: %w", err)
	}

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	return Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
