package broadcast

import (
	"time"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
)

// Defaults applied by NewHub for zero Config fields.
const (
	DefaultLiveInterval      = time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStatusInterval    = 5 * time.Second
	DefaultRingSize          = 100
	DefaultSendBuffer        = 256
)

// Config controls the hub loops and buffers.
type Config struct {
	LiveInterval      time.Duration
	HeartbeatInterval time.Duration
	StatusInterval    time.Duration

	// RingSize is how many recent readings are kept per device for get_data.
	RingSize int

	// SendBuffer is the per-client outbound queue depth.
	SendBuffer int
}

// FromAppConfig converts the broadcast section of config.yaml.
func FromAppConfig(c config.BroadcastConfig) Config {
	return Config{
		LiveInterval:      c.LiveInterval(),
		HeartbeatInterval: c.HeartbeatEvery(),
		StatusInterval:    c.StatusEvery(),
		RingSize:          c.RingSize,
		SendBuffer:        c.SendBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.LiveInterval <= 0 {
		c.LiveInterval = DefaultLiveInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.RingSize <= 0 {
		c.RingSize = DefaultRingSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	return c
}
