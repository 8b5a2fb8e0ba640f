package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookSink POSTs events as JSON.
type WebhookSink struct {
	name   string
	url    string
	slack  bool
	client *http.Client
}

// NewWebhookSink creates a webhook sink. Format "slack" sends a Slack
// incoming-webhook payload; "" or "http" sends {"alert": event}.
func NewWebhookSink(name string, c config.SinkConfig, client *http.Client) (*WebhookSink, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	var slack bool
	switch c.Format {
	case "", "http":
	case "slack":
		slack = true
	default:
		return nil, fmt.Errorf("unsupported webhook format %q", c.Format)
	}

	if client == nil {
		timeout := defaultWebhookTimeout
		if c.Timeout > 0 {
			timeout = time.Duration(c.Timeout) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookSink{name: name, url: c.URL, slack: slack, client: client}, nil
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return s.name }

// Send implements Sink.
func (s *WebhookSink) Send(ctx context.Context, ev telemetry.AnomalyEvent) error {
	var payload any
	if s.slack {
		payload = map[string]string{
			"text": fmt.Sprintf("*%s* %s", severityLabel(ev.Severity), summary(ev)),
		}
	} else {
		payload = map[string]any{"alert": ev}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
