package health

import (
	"fmt"
	"math"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Per-channel health scores and the health formula weights.
const (
	scoreNormal   = 100.0
	scoreWarning  = 60.0
	scoreCritical = 20.0

	weightTemperature = 0.3
	weightVibration   = 0.3
	weightPower       = 0.2
	weightAudio       = 0.2

	penaltyPerOpenAnomaly = 5.0
	maxOpenPenalty        = 20.0

	// hintHighScore is where a scorer-derived event becomes high severity.
	hintHighScore = 0.95
)

// channelRule checks one reading channel against its band.
type channelRule struct {
	name     string
	unit     string
	band     func(config.ThresholdsConfig) config.BandConfig
	value    func(telemetry.Reading) float64
	set      func(*telemetry.Channels, telemetry.Status)
	warning  telemetry.AnomalyType
	critical telemetry.AnomalyType

	// criticalSeverity is the severity of a critical-band breach.
	criticalSeverity telemetry.Severity
}

var channelRules = []channelRule{
	{
		name:             "temperature",
		unit:             "°C",
		band:             func(t config.ThresholdsConfig) config.BandConfig { return t.Temperature },
		value:            func(r telemetry.Reading) float64 { return r.Temperature },
		set:              func(c *telemetry.Channels, s telemetry.Status) { c.Temperature = s },
		warning:          telemetry.AnomalyTemperatureWarning,
		critical:         telemetry.AnomalyTemperatureCritical,
		criticalSeverity: telemetry.SeverityCritical,
	},
	{
		name:             "vibration",
		unit:             "",
		band:             func(t config.ThresholdsConfig) config.BandConfig { return t.Vibration },
		value:            func(r telemetry.Reading) float64 { return r.Vibration.Magnitude() },
		set:              func(c *telemetry.Channels, s telemetry.Status) { c.Vibration = s },
		warning:          telemetry.AnomalyVibrationWarning,
		critical:         telemetry.AnomalyVibrationCritical,
		criticalSeverity: telemetry.SeverityHigh,
	},
	{
		name:             "power",
		unit:             "%",
		band:             func(t config.ThresholdsConfig) config.BandConfig { return t.Power },
		value:            func(r telemetry.Reading) float64 { return r.PowerConsumption },
		set:              func(c *telemetry.Channels, s telemetry.Status) { c.Power = s },
		warning:          telemetry.AnomalyPowerWarning,
		critical:         telemetry.AnomalyPowerCritical,
		criticalSeverity: telemetry.SeverityCritical,
	},
	{
		name:             "audio",
		unit:             "",
		band:             func(t config.ThresholdsConfig) config.BandConfig { return t.Audio },
		value:            func(r telemetry.Reading) float64 { return r.AudioLevel },
		set:              func(c *telemetry.Channels, s telemetry.Status) { c.Audio = s },
		warning:          telemetry.AnomalyAudioWarning,
		critical:         telemetry.AnomalyAudioCritical,
		criticalSeverity: telemetry.SeverityHigh,
	},
}

// classify places v in band b.
func classify(b config.BandConfig, v float64) telemetry.Status {
	switch {
	case v > b.CriticalHigh:
		return telemetry.StatusCritical
	case b.LowEnabled && v < b.CriticalLow:
		return telemetry.StatusCritical
	case v > b.WarningHigh:
		return telemetry.StatusWarning
	case b.LowEnabled && v < b.WarningLow:
		return telemetry.StatusWarning
	default:
		return telemetry.StatusNormal
	}
}

// outcome is the result of running the rules over one reading.
type outcome struct {
	channels telemetry.Channels
	events   []telemetry.AnomalyEvent
}

// evaluate applies channel, trend and scorer rules to r. w must already
// contain r as its newest entry. score may be nil.
func (rules Rules) evaluate(r telemetry.Reading, w *window, score *telemetry.Score) outcome {
	out := outcome{channels: telemetry.Channels{
		Temperature: telemetry.StatusNormal,
		Vibration:   telemetry.StatusNormal,
		Power:       telemetry.StatusNormal,
		Audio:       telemetry.StatusNormal,
	}}
	th := rules.Thresholds

	for _, cr := range channelRules {
		v := cr.value(r)
		status := classify(cr.band(th), v)
		cr.set(&out.channels, status)

		switch status {
		case telemetry.StatusCritical:
			out.events = append(out.events, telemetry.NewAnomalyEvent(r, cr.critical, cr.criticalSeverity,
				rules.Confidence.Critical, fmt.Sprintf("%s %.2f%s outside critical band", cr.name, v, cr.unit)))
		case telemetry.StatusWarning:
			out.events = append(out.events, telemetry.NewAnomalyEvent(r, cr.warning, telemetry.SeverityMedium,
				rules.Confidence.Warning, fmt.Sprintf("%s %.2f%s outside normal band", cr.name, v, cr.unit)))
		}
	}

	if w.len() >= th.TrendMinSamples && th.TrendMinSamples > 0 {
		temps := w.series(func(r telemetry.Reading) float64 { return r.Temperature })
		if s := slope(temps); th.TemperatureSlope > 0 && s > th.TemperatureSlope {
			out.events = append(out.events, telemetry.NewAnomalyEvent(r, telemetry.AnomalyTemperatureTrend, telemetry.SeverityMedium,
				rules.Confidence.Trend, fmt.Sprintf("temperature rising %.2f°C per reading over last %d readings", s, len(temps))))
		}

		mags := w.series(func(r telemetry.Reading) float64 { return r.Vibration.Magnitude() })
		if v := variance(mags); th.VibrationVariance > 0 && v > th.VibrationVariance {
			out.events = append(out.events, telemetry.NewAnomalyEvent(r, telemetry.AnomalyVibrationPattern, telemetry.SeverityMedium,
				rules.Confidence.Trend, fmt.Sprintf("vibration variance %.2f over last %d readings", v, len(mags))))
		}
	}

	if score != nil && score.Hint != "" && rules.ScorerThreshold > 0 && score.Value >= rules.ScorerThreshold {
		sev := telemetry.SeverityMedium
		if score.Value >= hintHighScore {
			sev = telemetry.SeverityHigh
		}
		out.events = append(out.events, telemetry.NewAnomalyEvent(r, telemetry.AnomalyType(score.Hint), sev,
			score.Value, fmt.Sprintf("scorer flagged %s (score %.2f)", score.Hint, score.Value)))
	}

	return out
}

func channelScore(s telemetry.Status) float64 {
	switch s {
	case telemetry.StatusCritical:
		return scoreCritical
	case telemetry.StatusWarning:
		return scoreWarning
	default:
		return scoreNormal
	}
}

// overallHealth combines channel scores, reading quality and the number of
// open anomalies into a value in [0,100].
func overallHealth(c telemetry.Channels, quality float64, open int) float64 {
	weighted := weightTemperature*channelScore(c.Temperature) +
		weightVibration*channelScore(c.Vibration) +
		weightPower*channelScore(c.Power) +
		weightAudio*channelScore(c.Audio)

	q := math.Max(0, math.Min(1, quality))
	h := weighted*(0.5+0.5*q) - math.Min(penaltyPerOpenAnomaly*float64(open), maxOpenPenalty)
	return math.Max(0, math.Min(100, h))
}
