package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close() //nolint:errcheck // Port probe
	return port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("COLDWATCH_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("COLDWATCH_CONFIG", writeConfig(t, `
service:
  id: test
database:
  path: ""
mqtt:
  enabled: false
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_BadSinkType verifies an unknown alert sink stops startup.
func TestRun_BadSinkType(t *testing.T) {
	t.Setenv("COLDWATCH_CONFIG", writeConfig(t, `
service:
  id: test
database:
  path: "`+filepath.Join(t.TempDir(), "cw.db")+`"
mqtt:
  enabled: false
alerting:
  sinks:
    - type: pager
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an unsupported sink type")
	}
}

// TestRun_StartupAndShutdown runs the service with MQTT and InfluxDB
// disabled until the context expires.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cw.db")
	t.Setenv("COLDWATCH_CONFIG", writeConfig(t, fmt.Sprintf(`
service:
  id: test
database:
  path: "%s"
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
api:
  host: "127.0.0.1"
  port: %d
alerting:
  sinks:
    - type: log
`, dbPath, freePort(t))))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("COLDWATCH_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("COLDWATCH_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestIssueToken_Arguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no device", nil},
		{"too many", []string{"a", "1h", "x"}},
		{"bad device", []string{"comp/1"}},
		{"bad ttl", []string{"comp-1", "forever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := issueToken(tt.args); err == nil {
				t.Errorf("issueToken(%v) should fail", tt.args)
			}
		})
	}
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	t.Setenv("COLDWATCH_CONFIG", writeConfig(t, `
service:
  id: test
`))
	t.Setenv("COLDWATCH_DEVICE_AUTH_SECRET", "")

	if err := issueToken([]string{"comp-1"}); err == nil {
		t.Error("issueToken() without a secret should fail")
	}
}

// TestMigrate_StatusUpDown walks a fresh database through the migrate
// subcommand actions.
func TestMigrate_StatusUpDown(t *testing.T) {
	t.Setenv("COLDWATCH_CONFIG", writeConfig(t, `
service:
  id: test
database:
  path: "`+filepath.Join(t.TempDir(), "cw.db")+`"
mqtt:
  enabled: false
`))
	ctx := context.Background()

	var out bytes.Buffer
	if err := migrate(ctx, nil, &out); err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Contains(out.String(), "applied") || !strings.Contains(out.String(), "pending  20260301_090000  initial_schema") {
		t.Errorf("status on fresh database:\n%s", out.String())
	}

	out.Reset()
	if err := migrate(ctx, []string{"up"}, &out); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	if strings.Contains(out.String(), "pending") || strings.Count(out.String(), "applied") != 2 {
		t.Errorf("status after up:\n%s", out.String())
	}

	out.Reset()
	if err := migrate(ctx, []string{"down"}, &out); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	if !strings.Contains(out.String(), "rolled back 20260301_100000") ||
		!strings.Contains(out.String(), "pending  20260301_100000  audit_log") {
		t.Errorf("output after down:\n%s", out.String())
	}
}

// TestMigrate_Arguments verifies argument errors.
func TestMigrate_Arguments(t *testing.T) {
	for _, args := range [][]string{{"sideways"}, {"up", "down"}} {
		if err := migrate(context.Background(), args, &bytes.Buffer{}); err == nil {
			t.Errorf("migrate(%v) should fail", args)
		}
	}
}
