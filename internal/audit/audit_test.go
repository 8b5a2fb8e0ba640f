package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/database"
	_ "github.com/nerrad567/coldwatch-core/migrations"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db)
}

func TestRecordAndList(t *testing.T) {
	l := newLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: ActionDeviceRegistered, DeviceID: "comp-1", Source: SourceAPI, Details: map[string]any{"sample_rate": 16000}, CreatedAt: base},
		{Action: ActionDeviceRegistered, DeviceID: "comp-2", Source: SourceAPI, CreatedAt: base.Add(time.Second)},
		{Action: ActionConfigReloaded, Source: SourceConfig, Details: map[string]any{"min_severity": "critical"}, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		got, err := l.Record(ctx, e)
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if got.ID == "" {
			t.Error("Record() did not assign an ID")
		}
	}

	page, err := l.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 || len(page.Entries) != 3 || page.Limit != defaultLimit {
		t.Fatalf("List() = %+v", page)
	}
	if page.Entries[0].Action != ActionConfigReloaded {
		t.Errorf("newest entry = %s, want %s", page.Entries[0].Action, ActionConfigReloaded)
	}
	if page.Entries[0].Details["min_severity"] != "critical" {
		t.Errorf("details = %v", page.Entries[0].Details)
	}
	if !page.Entries[2].CreatedAt.Equal(base) {
		t.Errorf("oldest created_at = %v, want %v", page.Entries[2].CreatedAt, base)
	}

	page, err = l.List(ctx, Filter{DeviceID: "comp-1"})
	if err != nil {
		t.Fatalf("List(device) error = %v", err)
	}
	if page.Total != 1 || page.Entries[0].Details["sample_rate"] != float64(16000) {
		t.Errorf("List(device) = %+v", page)
	}

	page, err = l.List(ctx, Filter{Action: ActionDeviceRegistered, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List(page) error = %v", err)
	}
	if page.Total != 2 || len(page.Entries) != 1 || page.Entries[0].DeviceID != "comp-1" {
		t.Errorf("List(page) = %+v", page)
	}
}

func TestListClampsLimit(t *testing.T) {
	l := newLog(t)

	page, err := l.List(context.Background(), Filter{Limit: 10000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Limit != maxLimit || page.Offset != 0 || page.Entries == nil {
		t.Errorf("List() = %+v", page)
	}
}

func TestRecordRejectsIncompleteEntry(t *testing.T) {
	l := newLog(t)

	for _, e := range []Entry{{Source: SourceAPI}, {Action: ActionConfigReloaded}} {
		if _, err := l.Record(context.Background(), e); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("Record(%+v) error = %v, want ErrInvalidEntry", e, err)
		}
	}
}
