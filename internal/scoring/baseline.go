package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Hints reported by Baseline, one per channel.
const (
	HintTemperatureDrift   = "temperature_drift"
	HintVibrationDeviation = "vibration_deviation"
	HintPowerDeviation     = "power_deviation"
	HintAcousticDeviation  = "acoustic_deviation"
)

const (
	defaultMaxDevices = 4096
	defaultWarmup     = 30
	defaultAlpha      = 0.05

	// zScale controls how fast the score saturates: z = zScale gives ~0.63.
	zScale = 4.0

	// relStdDevFloor is the smallest standard deviation assumed for a
	// channel, as a fraction of its mean magnitude.
	relStdDevFloor = 0.02
)

// Baseline channels. Sensor-reported audio levels and RMS amplitudes of
// raw PCM chunks live on different scales and keep separate baselines.
const (
	chTemperature = iota
	chVibration
	chPower
	chSensorAudio
	chChunkAudio
	numChannels
)

var channelHints = [numChannels]string{
	HintTemperatureDrift,
	HintVibrationDeviation,
	HintPowerDeviation,
	HintAcousticDeviation,
	HintAcousticDeviation,
}

// stdDevFloor is the smallest standard deviation assumed per channel, in
// the channel's own units (°C, g, %, level, PCM RMS). A flat baseline
// would otherwise turn sensor noise into huge z-scores.
var stdDevFloor = [numChannels]float64{0.2, 0.05, 0.5, 5, 50}

// BaselineConfig tunes the Baseline scorer.
type BaselineConfig struct {
	// MaxDevices bounds how many device baselines are kept. Least recently
	// scored devices are evicted first and relearn from scratch.
	MaxDevices int

	// Warmup is the number of values a channel must see before it is
	// scored. Until then it contributes nothing to the score.
	Warmup int

	// Alpha is the EWMA smoothing factor in (0,1].
	Alpha float64
}

// Baseline scores a reading by how far each channel sits from the device's
// own exponentially weighted mean, in standard deviations. The largest
// deviation wins and names the hint.
type Baseline struct {
	cfg   BaselineConfig
	cache *lru.Cache[string, *deviceBaseline]
}

// channelStats is an exponentially weighted mean and variance.
type channelStats struct {
	n    int
	mean float64
	vari float64
}

func (c *channelStats) observe(x, alpha float64) {
	c.n++
	if c.n == 1 {
		c.mean = x
		return
	}
	diff := x - c.mean
	incr := alpha * diff
	c.mean += incr
	c.vari = (1 - alpha) * (c.vari + diff*incr)
}

func (c *channelStats) z(x, floor float64) float64 {
	sd := math.Max(math.Sqrt(c.vari), math.Max(floor, relStdDevFloor*math.Abs(c.mean)))
	return math.Abs(x-c.mean) / sd
}

type deviceBaseline struct {
	mu       sync.Mutex
	channels [numChannels]channelStats
}

// sample is one channel value of a reading.
type sample struct {
	ch    int
	value float64
}

// samples picks the channels a reading contributes to. Audio chunks carry
// copies of the last sensor values, so only their amplitude is new.
func samples(r telemetry.Reading) []sample {
	if r.AudioChunk {
		return []sample{{chChunkAudio, r.AudioLevel}}
	}
	return []sample{
		{chTemperature, r.Temperature},
		{chVibration, r.Vibration.Magnitude()},
		{chPower, r.PowerConsumption},
		{chSensorAudio, r.AudioLevel},
	}
}

// NewBaseline creates a Baseline scorer. Zero fields in cfg take defaults.
func NewBaseline(cfg BaselineConfig) (*Baseline, error) {
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = defaultMaxDevices
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = defaultWarmup
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = defaultAlpha
	}

	cache, err := lru.New[string, *deviceBaseline](cfg.MaxDevices)
	if err != nil {
		return nil, fmt.Errorf("creating baseline cache: %w", err)
	}
	return &Baseline{cfg: cfg, cache: cache}, nil
}

// Score implements Scorer.
func (b *Baseline) Score(ctx context.Context, r telemetry.Reading) (telemetry.Score, error) {
	if err := ctx.Err(); err != nil {
		return telemetry.Score{}, fmt.Errorf("%w: %w", telemetry.ErrScorer, err)
	}

	values := samples(r)
	for _, v := range values {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return telemetry.Score{}, fmt.Errorf("%w: non-finite channel value", telemetry.ErrScorer)
		}
	}

	dev := b.device(r.DeviceID)
	dev.mu.Lock()
	defer dev.mu.Unlock()

	var score telemetry.Score
	var maxZ float64
	for _, v := range values {
		c := &dev.channels[v.ch]
		if c.n < b.cfg.Warmup {
			continue
		}
		if z := c.z(v.value, stdDevFloor[v.ch]); z > maxZ {
			maxZ = z
			score.Hint = channelHints[v.ch]
		}
	}
	if maxZ > 0 {
		score.Value = 1 - math.Exp(-maxZ/zScale)
	}

	for _, v := range values {
		dev.channels[v.ch].observe(v.value, b.cfg.Alpha)
	}

	return score, nil
}

// Forget drops the baseline for a device, e.g. after maintenance.
func (b *Baseline) Forget(deviceID string) {
	b.cache.Remove(deviceID)
}

// Devices returns how many device baselines are currently held.
func (b *Baseline) Devices() int {
	return b.cache.Len()
}

func (b *Baseline) device(id string) *deviceBaseline {
	if dev, ok := b.cache.Get(id); ok {
		return dev
	}
	dev := &deviceBaseline{}
	// Another worker may have raced us to create it; keep the first.
	if prev, ok, _ := b.cache.PeekOrAdd(id, dev); ok {
		return prev
	}
	return dev
}
