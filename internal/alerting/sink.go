package alerting

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Sink delivers one anomaly event to an external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev telemetry.AnomalyEvent) error
}

// Logger is the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps carries the shared clients sinks are built on.
type Deps struct {
	Logger Logger

	// Publisher backs mqtt sinks. Building an mqtt sink without one fails.
	Publisher Publisher

	// HTTPClient backs webhook sinks. Nil means a client with the sink's timeout.
	HTTPClient *http.Client

	// NewSNS creates the SNS API for a region. Nil means the AWS SDK default
	// credential chain.
	NewSNS func(ctx context.Context, region string) (SNSAPI, error)
}

// Build creates the configured sinks in order.
func Build(ctx context.Context, cfgs []config.SinkConfig, deps Deps) ([]Sink, error) {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.NewSNS == nil {
		deps.NewSNS = newAWSSNS
	}

	sinks := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", c.Type, i)
		}

		var (
			s   Sink
			err error
		)
		switch c.Type {
		case "log":
			s = NewLogSink(name, deps.Logger)
		case "mqtt":
			if deps.Publisher == nil {
				return nil, fmt.Errorf("alerting: sink %q: mqtt is not enabled", name)
			}
			s = NewMQTTSink(name, deps.Publisher)
		case "webhook":
			s, err = NewWebhookSink(name, c, deps.HTTPClient)
		case "sns":
			var api SNSAPI
			api, err = deps.NewSNS(ctx, c.Region)
			if err == nil {
				s = NewSNSSink(name, c.TopicARN, api)
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSink, c.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("alerting: sink %q: %w", name, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// LogSink writes each event as a structured warning.
type LogSink struct {
	name   string
	logger Logger
}

// NewLogSink creates a log sink.
func NewLogSink(name string, logger Logger) *LogSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogSink{name: name, logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return s.name }

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, ev telemetry.AnomalyEvent) error {
	s.logger.Warn("compressor anomaly",
		"anomaly_id", ev.ID,
		"device_id", ev.DeviceID,
		"anomaly_type", ev.Type,
		"severity", ev.Severity,
		"confidence", ev.Confidence,
		"description", ev.Description,
	)
	return nil
}

// summary is the one-line human form of an event used by text sinks.
func summary(ev telemetry.AnomalyEvent) string {
	return fmt.Sprintf("%s on %s: %s (confidence %.0f%%)",
		ev.Type, ev.DeviceID, ev.Description, ev.Confidence*100)
}

func severityLabel(s telemetry.Severity) string {
	switch s {
	case telemetry.SeverityCritical:
		return "[CRITICAL]"
	case telemetry.SeverityHigh:
		return "[HIGH]"
	case telemetry.SeverityMedium:
		return "[MEDIUM]"
	default:
		return "[LOW]"
	}
}
