package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ColdWatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Health    HealthConfig    `yaml:"health"`
	Store     StoreConfig     `yaml:"store"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig identifies this ColdWatch instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	TLS         TLSConfig        `yaml:"tls"`
	Timeouts    APITimeoutConfig `yaml:"timeouts"`
	CORS        CORSConfig       `yaml:"cors"`
	MaxBodySize int64            `yaml:"max_body_size"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the optional
// time-series mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// IngestConfig controls the ingestion gateway and its worker pool.
type IngestConfig struct {
	// Workers is the worker pool size. 0 means min(NumCPU, 8).
	Workers int `yaml:"workers"`

	// QueueCapacity bounds the priority queue. Submissions beyond it are
	// rejected with backpressure.
	QueueCapacity int `yaml:"queue_capacity"`

	// MinSamples is the minimum number of PCM samples in an audio chunk.
	MinSamples int `yaml:"min_samples"`

	// SampleRates lists the accepted audio sample rates in Hz.
	SampleRates []int `yaml:"sample_rates"`

	// DeviceTimeout is how long (seconds) a silent device stays in the
	// registry before cleanup evicts it.
	DeviceTimeout int `yaml:"device_timeout"`
}

// HealthConfig controls the device health tracker.
type HealthConfig struct {
	WindowSize       int `yaml:"window_size"`
	OfflineThreshold int `yaml:"offline_threshold"`
	SweepInterval    int `yaml:"sweep_interval"`

	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Confidence ConfidenceConfig `yaml:"confidence"`

	// ScorerThreshold is the score at or above which a scorer hint is
	// turned into an anomaly event.
	ScorerThreshold float64 `yaml:"scorer_threshold"`
}

// ThresholdsConfig holds the per-channel three-tier bands and trend bounds.
type ThresholdsConfig struct {
	Temperature BandConfig `yaml:"temperature"`
	Vibration   BandConfig `yaml:"vibration"`
	Power       BandConfig `yaml:"power"`
	Audio       BandConfig `yaml:"audio"`

	// TemperatureSlope bounds the least-squares temperature slope per sample.
	TemperatureSlope float64 `yaml:"temperature_slope"`
	// VibrationVariance bounds the variance of vibration magnitude.
	VibrationVariance float64 `yaml:"vibration_variance"`
	TrendMinSamples   int     `yaml:"trend_min_samples"`
}

// BandConfig describes warning and critical limits for one channel.
// Low limits are only applied when LowEnabled is set.
type BandConfig struct {
	WarningHigh  float64 `yaml:"warning_high"`
	CriticalHigh float64 `yaml:"critical_high"`
	WarningLow   float64 `yaml:"warning_low"`
	CriticalLow  float64 `yaml:"critical_low"`
	LowEnabled   bool    `yaml:"low_enabled"`
}

// ConfidenceConfig holds the fixed confidence assigned per rule class.
type ConfidenceConfig struct {
	Warning  float64 `yaml:"warning"`
	Trend    float64 `yaml:"trend"`
	Critical float64 `yaml:"critical"`
}

// StoreConfig controls batching, retries and retention of the time-series store.
type StoreConfig struct {
	BatchSize            int `yaml:"batch_size"`
	BatchTimeoutMS       int `yaml:"batch_timeout_ms"`
	AnomalyMaxAttempts   int `yaml:"anomaly_max_attempts"`
	AnomalyBackoffInitMS int `yaml:"anomaly_backoff_initial_ms"`
	AnomalyBackoffMaxMS  int `yaml:"anomaly_backoff_max_ms"`
	RetentionDays        int `yaml:"retention_days"`
	CleanupInterval      int `yaml:"cleanup_interval"`
}

// BroadcastConfig controls the live dashboard broadcaster.
type BroadcastConfig struct {
	LiveIntervalMS    int `yaml:"live_interval_ms"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	StatusInterval    int `yaml:"status_interval"`
	RingSize          int `yaml:"ring_size"`
	SendBuffer        int `yaml:"send_buffer"`
}

// AlertingConfig controls external alert sinks.
type AlertingConfig struct {
	MinSeverity string       `yaml:"min_severity"`
	Cooldown    int          `yaml:"cooldown"`
	QueueSize   int          `yaml:"queue_size"`
	Sinks       []SinkConfig `yaml:"sinks"`
}

// SinkConfig declares one alert sink. Type selects the implementation:
// "log", "mqtt", "webhook" or "sns".
type SinkConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	URL      string `yaml:"url"`
	Format   string `yaml:"format"`
	TopicARN string `yaml:"topic_arn"`
	Region   string `yaml:"region"`
	Timeout  int    `yaml:"timeout"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	DeviceAuth DeviceAuthConfig `yaml:"device_auth"`
}

// DeviceAuthConfig controls bearer-token authentication of ingest requests.
type DeviceAuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: COLDWATCH_SECTION_KEY
// For example: COLDWATCH_DATABASE_PATH, COLDWATCH_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "coldwatch-001",
			Name: "ColdWatch",
		},
		Database: DatabaseConfig{
			Path:        "./data/coldwatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "coldwatch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxBodySize: 1 << 20,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     500,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Ingest: IngestConfig{
			QueueCapacity: 1000,
			MinSamples:    100,
			SampleRates:   []int{8000, 16000, 44100, 48000},
			DeviceTimeout: 600,
		},
		Health: HealthConfig{
			WindowSize:       100,
			OfflineThreshold: 300,
			SweepInterval:    30,
			Thresholds:       DefaultThresholds(),
			Confidence: ConfidenceConfig{
				Warning:  0.7,
				Trend:    0.8,
				Critical: 0.9,
			},
			ScorerThreshold: 0.8,
		},
		Store: StoreConfig{
			BatchSize:            100,
			BatchTimeoutMS:       5000,
			AnomalyMaxAttempts:   5,
			AnomalyBackoffInitMS: 100,
			AnomalyBackoffMaxMS:  2000,
			RetentionDays:        30,
			CleanupInterval:      6 * 3600,
		},
		Broadcast: BroadcastConfig{
			LiveIntervalMS:    1000,
			HeartbeatInterval: 30,
			StatusInterval:    5,
			RingSize:          100,
			SendBuffer:        256,
		},
		Alerting: AlertingConfig{
			MinSeverity: "high",
			Cooldown:    300,
			QueueSize:   256,
		},
		Security: SecurityConfig{
			DeviceAuth: DeviceAuthConfig{
				Issuer: "coldwatch",
			},
		},
	}
}

// DefaultThresholds returns the refrigeration-compressor bands used when the
// config file does not override them.
func DefaultThresholds() ThresholdsConfig {
	return ThresholdsConfig{
		Temperature: BandConfig{
			WarningHigh:  5,
			CriticalHigh: 10,
			WarningLow:   -35,
			CriticalLow:  -40,
			LowEnabled:   true,
		},
		Vibration: BandConfig{WarningHigh: 2.0, CriticalHigh: 5.0},
		Power:     BandConfig{WarningHigh: 80, CriticalHigh: 95},
		Audio:     BandConfig{WarningHigh: 8000, CriticalHigh: 16000},

		TemperatureSlope:  0.5,
		VibrationVariance: 1.0,
		TrendMinSamples:   10,
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: COLDWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("COLDWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("COLDWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("COLDWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("COLDWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("COLDWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("COLDWATCH_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Ingest
	if v := os.Getenv("COLDWATCH_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Workers = n
		}
	}

	// InfluxDB
	if v := os.Getenv("COLDWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("COLDWATCH_DEVICE_AUTH_SECRET"); v != "" {
		cfg.Security.DeviceAuth.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Ingest.Workers < 0 {
		errs = append(errs, "ingest.workers must not be negative")
	}
	if c.Ingest.QueueCapacity < 1 {
		errs = append(errs, "ingest.queue_capacity must be positive")
	}
	if c.Ingest.MinSamples < 1 {
		errs = append(errs, "ingest.min_samples must be positive")
	}
	if len(c.Ingest.SampleRates) == 0 {
		errs = append(errs, "ingest.sample_rates must not be empty")
	}

	if c.Health.WindowSize < 1 {
		errs = append(errs, "health.window_size must be positive")
	}
	if c.Health.OfflineThreshold < 1 {
		errs = append(errs, "health.offline_threshold must be positive")
	}
	errs = append(errs, c.Health.Thresholds.validate()...)
	for name, v := range map[string]float64{
		"warning":  c.Health.Confidence.Warning,
		"trend":    c.Health.Confidence.Trend,
		"critical": c.Health.Confidence.Critical,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("health.confidence.%s must be within [0,1]", name))
		}
	}

	if c.Store.BatchSize < 1 {
		errs = append(errs, "store.batch_size must be positive")
	}
	if c.Store.AnomalyMaxAttempts < 1 {
		errs = append(errs, "store.anomaly_max_attempts must be positive")
	}

	if c.Broadcast.RingSize < 1 {
		errs = append(errs, "broadcast.ring_size must be positive")
	}
	if c.Broadcast.SendBuffer < 1 {
		errs = append(errs, "broadcast.send_buffer must be positive")
	}

	if !slices.Contains([]string{"low", "medium", "high", "critical"}, c.Alerting.MinSeverity) {
		errs = append(errs, "alerting.min_severity must be one of low, medium, high, critical")
	}
	for i, s := range c.Alerting.Sinks {
		switch s.Type {
		case "log", "mqtt":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Sprintf("alerting.sinks[%d].url is required for webhook sinks", i))
			}
		case "sns":
			if s.TopicARN == "" {
				errs = append(errs, fmt.Sprintf("alerting.sinks[%d].topic_arn is required for sns sinks", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.sinks[%d].type %q is not supported", i, s.Type))
		}
	}

	const minSecretLength = 32
	if c.Security.DeviceAuth.Enabled && len(c.Security.DeviceAuth.Secret) < minSecretLength {
		errs = append(errs, "security.device_auth.secret must be at least 32 characters (set COLDWATCH_DEVICE_AUTH_SECRET)")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (t ThresholdsConfig) validate() []string {
	var errs []string
	bands := map[string]BandConfig{
		"temperature": t.Temperature,
		"vibration":   t.Vibration,
		"power":       t.Power,
		"audio":       t.Audio,
	}
	for name, b := range bands {
		if b.CriticalHigh < b.WarningHigh {
			errs = append(errs, fmt.Sprintf("health.thresholds.%s.critical_high must be >= warning_high", name))
		}
		if b.LowEnabled && b.CriticalLow > b.WarningLow {
			errs = append(errs, fmt.Sprintf("health.thresholds.%s.critical_low must be <= warning_low", name))
		}
	}
	if t.TrendMinSamples < 2 {
		errs = append(errs, "health.thresholds.trend_min_samples must be at least 2")
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// seconds converts an integer seconds setting to a Duration.
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// millis converts an integer milliseconds setting to a Duration.
func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// OfflineAfter returns health.offline_threshold as a Duration.
func (h HealthConfig) OfflineAfter() time.Duration { return seconds(h.OfflineThreshold) }

// SweepEvery returns health.sweep_interval as a Duration.
func (h HealthConfig) SweepEvery() time.Duration { return seconds(h.SweepInterval) }

// BatchTimeout returns store.batch_timeout_ms as a Duration.
func (s StoreConfig) BatchTimeout() time.Duration { return millis(s.BatchTimeoutMS) }

// AnomalyBackoff returns the initial and maximum anomaly retry backoff.
func (s StoreConfig) AnomalyBackoff() (initial, maxDelay time.Duration) {
	return millis(s.AnomalyBackoffInitMS), millis(s.AnomalyBackoffMaxMS)
}

// CleanupEvery returns store.cleanup_interval as a Duration.
func (s StoreConfig) CleanupEvery() time.Duration { return seconds(s.CleanupInterval) }

// LiveInterval returns broadcast.live_interval_ms as a Duration.
func (b BroadcastConfig) LiveInterval() time.Duration { return millis(b.LiveIntervalMS) }

// HeartbeatEvery returns broadcast.heartbeat_interval as a Duration.
func (b BroadcastConfig) HeartbeatEvery() time.Duration { return seconds(b.HeartbeatInterval) }

// StatusEvery returns broadcast.status_interval as a Duration.
func (b BroadcastConfig) StatusEvery() time.Duration { return seconds(b.StatusInterval) }

// CooldownPeriod returns alerting.cooldown as a Duration.
func (a AlertingConfig) CooldownPeriod() time.Duration { return seconds(a.Cooldown) }

// DeviceTimeoutPeriod returns ingest.device_timeout as a Duration.
func (i IngestConfig) DeviceTimeoutPeriod() time.Duration { return seconds(i.DeviceTimeout) }
