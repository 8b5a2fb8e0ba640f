// ColdWatch - refrigeration compressor telemetry pipeline
//
// This is the main entry point for the ColdWatch service. It wires the
// ingestion gateway, health tracker, time-series store, dashboard
// broadcaster and alert sinks, then serves the HTTP API until a shutdown
// signal arrives.
//
// Usage:
//
//	coldwatch                         run the service
//	coldwatch token <device> [ttl]    print a device token signed with
//	                                  security.device_auth.secret
//	coldwatch migrate [status|up|down]
//	                                  show, apply or roll back one schema
//	                                  migration
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/coldwatch-core/migrations"

	"github.com/nerrad567/coldwatch-core/internal/alerting"
	"github.com/nerrad567/coldwatch-core/internal/api"
	"github.com/nerrad567/coldwatch-core/internal/audit"
	"github.com/nerrad567/coldwatch-core/internal/broadcast"
	"github.com/nerrad567/coldwatch-core/internal/health"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/database"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/coldwatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/coldwatch-core/internal/ingest"
	"github.com/nerrad567/coldwatch-core/internal/pipeline"
	"github.com/nerrad567/coldwatch-core/internal/scoring"
	"github.com/nerrad567/coldwatch-core/internal/store"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds the drain of queued work on exit.
const shutdownTimeout = 30 * time.Second

// defaultTokenTTL applies when `coldwatch token` is given no ttl.
const defaultTokenTTL = 365 * 24 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "token":
		err = issueToken(os.Args[2:])
	case len(os.Args) > 1 && os.Args[1] == "migrate":
		err = migrate(ctx, os.Args[2:], os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting ColdWatch",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.FromAppConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// MQTT is optional: devices can also post over HTTP.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	p, parts, err := buildPipeline(ctx, cfg, db, mqttClient, influxClient, log)
	if err != nil {
		return err
	}

	srv, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Pipeline:   p,
		Store:      parts.store,
		Tracker:    parts.tracker,
		Hub:        parts.hub,
		Dispatcher: parts.dispatcher,
		Audit:      parts.audit,
		DB:         db,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Components outlive the signal context so Stop can drain them.
	p.Start(context.WithoutCancel(ctx))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping pipeline")
		if stopErr := p.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping pipeline", "error", stopErr)
		}
	}()

	if mqttClient != nil {
		topic := mqtt.Topics{}.AllTelemetry()
		// #nosec G115 -- QoS validated to 0..2 by config.Validate
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), p.Gateway().TelemetryHandler()); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		log.Info("subscribed to device telemetry", "topic", topic)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	go watchConfig(ctx, configPath, parts, log)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Pipeline (gateway drain, tracker, store flush, alerts, hub)
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("ColdWatch stopped")
	return nil
}

// components are the pipeline parts the API and config reload need.
type components struct {
	store      *store.Store
	tracker    *health.Tracker
	hub        *broadcast.Hub
	dispatcher *alerting.Dispatcher
	audit      *audit.Log
}

// buildPipeline creates every component from configuration and connects
// them through a pipeline. Nothing is started.
func buildPipeline(ctx context.Context, cfg *config.Config, db *database.DB, mqttClient *mqtt.Client,
	influxClient *influxdb.Client, log *logging.Logger) (*pipeline.Pipeline, components, error) {
	st := store.New(db, store.FromAppConfig(cfg.Store))
	st.SetLogger(log.Component("store"))

	tracker := health.NewTracker(health.FromAppConfig(cfg.Health))
	tracker.SetLogger(log.Component("health"))

	hub := broadcast.NewHub(broadcast.FromAppConfig(cfg.Broadcast))
	hub.SetLogger(log.Component("broadcast"))

	scorer, err := scoring.NewBaseline(scoring.BaselineConfig{})
	if err != nil {
		return nil, components{}, fmt.Errorf("creating scorer: %w", err)
	}

	sinkDeps := alerting.Deps{
		Logger:     log.Component("alerts"),
		HTTPClient: &http.Client{},
	}
	if mqttClient != nil {
		sinkDeps.Publisher = mqttClient
	}
	sinks, err := alerting.Build(ctx, cfg.Alerting.Sinks, sinkDeps)
	if err != nil {
		return nil, components{}, fmt.Errorf("building alert sinks: %w", err)
	}
	dispatcher := alerting.NewDispatcher(alerting.FromAppConfig(cfg.Alerting), sinks)
	dispatcher.SetLogger(log.Component("alerting"))
	log.Info("alert sinks configured", "sinks", len(sinks), "min_severity", cfg.Alerting.MinSeverity)

	deps := pipeline.Deps{
		Store:      st,
		Tracker:    tracker,
		Hub:        hub,
		Dispatcher: dispatcher,
		Scorer:     scorer,
		Checks:     map[string]func() bool{"database": func() bool { return db.HealthCheck(context.Background()) == nil }},
		Logger:     log.Component("pipeline"),
	}
	if mqttClient != nil {
		deps.Checks["mqtt"] = mqttClient.IsConnected
	}
	if influxClient != nil {
		st.SetMirror(influxClient)
		deps.HealthMirror = influxClient
		deps.Checks["influxdb"] = influxClient.IsConnected
	}

	p := pipeline.New(ingest.FromAppConfig(cfg.Ingest), deps)
	p.Gateway().SetLogger(log.Component("ingest"))

	return p, components{
		store:      st,
		tracker:    tracker,
		hub:        hub,
		dispatcher: dispatcher,
		audit:      audit.New(db),
	}, nil
}

// connectMQTT connects to the broker and logs connection state changes.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// watchConfig applies threshold and alert severity changes from the
// config file without a restart. Other settings need a restart.
func watchConfig(ctx context.Context, path string, parts components, log *logging.Logger) {
	err := config.Watch(ctx, path, log.Component("config").Logger, func(cfg *config.Config) {
		if err := parts.tracker.SetRules(ctx, health.RulesFromAppConfig(cfg.Health)); err != nil {
			log.Warn("applying reloaded thresholds failed", "error", err)
		}
		if sev, err := telemetry.ParseSeverity(cfg.Alerting.MinSeverity); err == nil {
			parts.dispatcher.SetMinSeverity(sev)
		}
		log.Info("configuration reloaded", "min_severity", cfg.Alerting.MinSeverity)
		_, err := parts.audit.Record(ctx, audit.Entry{
			Action:  audit.ActionConfigReloaded,
			Source:  audit.SourceConfig,
			Details: map[string]any{"path": path, "min_severity": cfg.Alerting.MinSeverity},
		})
		if err != nil {
			log.Warn("recording config reload failed", "error", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("config watcher stopped", "error", err)
	}
}

// getConfigPath returns the configuration file path.
// Uses COLDWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("COLDWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// migrate implements `coldwatch migrate [status|up|down]`. Status is the
// default; down rolls back only the latest migration.
func migrate(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 1 {
		return errors.New("usage: coldwatch migrate [status|up|down]")
	}
	action := "status"
	if len(args) == 1 {
		action = args[0]
	}
	if action != "status" && action != "up" && action != "down" {
		return fmt.Errorf("unknown migrate action %q (want status, up or down)", action)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(database.FromAppConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI

	switch action {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		rolledBack, err := db.MigrateDown(ctx)
		if err != nil {
			return err
		}
		if rolledBack == "" {
			fmt.Fprintln(out, "nothing to roll back")
		} else {
			fmt.Fprintf(out, "rolled back %s\n", rolledBack)
		}
	}

	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading schema status: %w", err)
	}
	for _, m := range status.Applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// issueToken implements `coldwatch token <device> [ttl]`.
func issueToken(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: coldwatch token <device_id> [ttl, e.g. 8760h]")
	}
	if err := telemetry.ValidateDeviceID(args[0]); err != nil {
		return err
	}
	ttl := defaultTokenTTL
	if len(args) == 2 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parsing ttl: %w", err)
		}
		ttl = d
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueDeviceToken(cfg.Security.DeviceAuth.Secret, cfg.Security.DeviceAuth.Issuer, args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
