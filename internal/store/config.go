package store

import (
	"time"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultBatchSize          = 100
	DefaultBatchTimeout       = 5 * time.Second
	DefaultAnomalyMaxAttempts = 5
	DefaultBackoffInitial     = 100 * time.Millisecond
	DefaultBackoffMax         = 2 * time.Second

	defaultQueryLimit = 1000
	maxQueryLimit     = 10000
)

// Config controls batching, retries and retention.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration

	AnomalyMaxAttempts    int
	AnomalyBackoffInitial time.Duration
	AnomalyBackoffMax     time.Duration

	// RetentionDays enables periodic cleanup when positive.
	RetentionDays   int
	CleanupInterval time.Duration
}

// FromAppConfig converts the store section of config.yaml.
func FromAppConfig(c config.StoreConfig) Config {
	initial, maxDelay := c.AnomalyBackoff()
	return Config{
		BatchSize:             c.BatchSize,
		BatchTimeout:          c.BatchTimeout(),
		AnomalyMaxAttempts:    c.AnomalyMaxAttempts,
		AnomalyBackoffInitial: initial,
		AnomalyBackoffMax:     maxDelay,
		RetentionDays:         c.RetentionDays,
		CleanupInterval:       c.CleanupEvery(),
	}
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.AnomalyMaxAttempts <= 0 {
		c.AnomalyMaxAttempts = DefaultAnomalyMaxAttempts
	}
	if c.AnomalyBackoffInitial <= 0 {
		c.AnomalyBackoffInitial = DefaultBackoffInitial
	}
	if c.AnomalyBackoffMax < c.AnomalyBackoffInitial {
		c.AnomalyBackoffMax = max(DefaultBackoffMax, c.AnomalyBackoffInitial)
	}
	return c
}
