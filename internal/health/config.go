package health

import (
	"time"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
)

// Defaults applied by NewTracker for zero Config fields.
const (
	DefaultWindowSize      = 100
	DefaultOfflineAfter    = 300 * time.Second
	DefaultSweepInterval   = 30 * time.Second
	DefaultScorerThreshold = 0.8
)

// Config controls a Tracker.
type Config struct {
	// WindowSize is how many recent readings are kept per device.
	WindowSize int

	// OfflineAfter is how long a device may stay silent before the sweep
	// marks it offline.
	OfflineAfter time.Duration

	// SweepInterval is how often the offline sweep runs.
	SweepInterval time.Duration

	Rules Rules
}

// Rules is the hot-reloadable part of the tracker configuration.
type Rules struct {
	Thresholds config.ThresholdsConfig
	Confidence config.ConfidenceConfig

	// ScorerThreshold is the score at or above which a scorer hint becomes
	// an anomaly event. Zero disables scorer events.
	ScorerThreshold float64
}

// DefaultRules returns the built-in refrigeration thresholds.
func DefaultRules() Rules {
	return Rules{
		Thresholds: config.DefaultThresholds(),
		Confidence: config.ConfidenceConfig{
			Warning:  0.7,
			Trend:    0.8,
			Critical: 0.9,
		},
		ScorerThreshold: DefaultScorerThreshold,
	}
}

// RulesFromAppConfig extracts the rule set from the health section of
// config.yaml.
func RulesFromAppConfig(c config.HealthConfig) Rules {
	return Rules{
		Thresholds:      c.Thresholds,
		Confidence:      c.Confidence,
		ScorerThreshold: c.ScorerThreshold,
	}
}

// FromAppConfig converts the health section of config.yaml.
func FromAppConfig(c config.HealthConfig) Config {
	return Config{
		WindowSize:    c.WindowSize,
		OfflineAfter:  c.OfflineAfter(),
		SweepInterval: c.SweepEvery(),
		Rules:         RulesFromAppConfig(c),
	}
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = DefaultOfflineAfter
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Rules == (Rules{}) {
		c.Rules = DefaultRules()
	}
	return c
}
