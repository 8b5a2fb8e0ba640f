package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/nerrad567/coldwatch-core/internal/infrastructure/config"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

type fakePublisher struct {
	topic string
	value any
	err   error
}

func (p *fakePublisher) PublishJSON(topic string, v any, _ bool) error {
	p.topic, p.value = topic, v
	return p.err
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestBuild(t *testing.T) {
	api := &fakeSNS{}
	var region string
	deps := Deps{
		Publisher: &fakePublisher{},
		NewSNS: func(_ context.Context, r string) (SNSAPI, error) {
			region = r
			return api, nil
		},
	}
	cfgs := []config.SinkConfig{
		{Type: "log"},
		{Name: "ops-mqtt", Type: "mqtt"},
		{Name: "slack", Type: "webhook", URL: "http://example.invalid/hook", Format: "slack"},
		{Name: "pager", Type: "sns", TopicARN: "arn:aws:sns:eu-west-1:123:cw", Region: "eu-west-1"},
	}

	sinks, err := Build(context.Background(), cfgs, deps)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var names []string
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	if got := strings.Join(names, ","); got != "log-0,ops-mqtt,slack,pager" {
		t.Errorf("sink names = %s", got)
	}
	if region != "eu-west-1" {
		t.Errorf("SNS region = %q", region)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SinkConfig
	}{
		{"unknown type", config.SinkConfig{Type: "pigeon"}},
		{"mqtt without publisher", config.SinkConfig{Type: "mqtt"}},
		{"webhook without url", config.SinkConfig{Type: "webhook"}},
		{"webhook bad format", config.SinkConfig{Type: "webhook", URL: "http://x", Format: "teams"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(context.Background(), []config.SinkConfig{tt.cfg}, Deps{}); err == nil {
				t.Error("Build() error = nil")
			}
		})
	}

	_, err := Build(context.Background(), []config.SinkConfig{{Type: "pigeon"}}, Deps{})
	if !errors.Is(err, ErrUnknownSink) {
		t.Errorf("Build() error = %v, want ErrUnknownSink", err)
	}
}

func TestLogSink(t *testing.T) {
	logger := &recordingLogger{}
	s := NewLogSink("log", logger)
	if err := s.Send(context.Background(), event("comp-1", telemetry.AnomalyPowerCritical, telemetry.SeverityCritical)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	ev := event("comp-4", telemetry.AnomalyAudioCritical, telemetry.SeverityCritical)
	if err := NewMQTTSink("mqtt", pub).Send(context.Background(), ev); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if pub.topic != "coldwatch/alert/comp-4" {
		t.Errorf("topic = %q", pub.topic)
	}
	if got, ok := pub.value.(telemetry.AnomalyEvent); !ok || got.ID != ev.ID {
		t.Errorf("published %#v", pub.value)
	}

	pub.err = errors.New("not connected")
	if err := NewMQTTSink("mqtt", pub).Send(context.Background(), ev); err == nil {
		t.Error("Send() error = nil with failing publisher")
	}
}

func TestWebhookSink(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		data, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := event("comp-1", telemetry.AnomalyTemperatureCritical, telemetry.SeverityCritical)

	plain, err := NewWebhookSink("plain", config.SinkConfig{URL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	slack, err := NewWebhookSink("slack", config.SinkConfig{URL: srv.URL, Format: "slack"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []Sink{plain, slack} {
		if err := s.Send(context.Background(), ev); err != nil {
			t.Fatalf("%s Send() error = %v", s.Name(), err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("server received %d bodies, want 2", len(bodies))
	}
	alert, ok := bodies[0]["alert"].(map[string]any)
	if !ok || alert["device_id"] != "comp-1" || alert["severity"] != "critical" {
		t.Errorf("plain body = %v", bodies[0])
	}
	if text, _ := bodies[1]["text"].(string); !strings.HasPrefix(text, "*[CRITICAL]*") || !strings.Contains(text, "comp-1") {
		t.Errorf("slack text = %q", text)
	}
}

func TestWebhookSinkHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := NewWebhookSink("hook", config.SinkConfig{URL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	err = s.Send(context.Background(), event("comp-1", telemetry.AnomalyPowerCritical, telemetry.SeverityCritical))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Send() error = %v, want HTTP 502", err)
	}
}

func TestSNSSink(t *testing.T) {
	api := &fakeSNS{}
	s := NewSNSSink("sns", "arn:aws:sns:eu-west-1:123:cw", api)
	ev := event("comp-9", telemetry.AnomalyVibrationCritical, telemetry.SeverityCritical)

	if err := s.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	in := api.input
	if aws.ToString(in.TopicArn) != "arn:aws:sns:eu-west-1:123:cw" {
		t.Errorf("TopicArn = %q", aws.ToString(in.TopicArn))
	}
	if subject := aws.ToString(in.Subject); len(subject) > maxSubjectLen || !strings.Contains(subject, "comp-9") {
		t.Errorf("Subject = %q", subject)
	}
	if attr := in.MessageAttributes["severity"]; aws.ToString(attr.StringValue) != "critical" {
		t.Errorf("severity attribute = %v", aws.ToString(attr.StringValue))
	}

	api.err = errors.New("throttled")
	if err := s.Send(context.Background(), ev); err == nil {
		t.Error("Send() error = nil with failing API")
	}
}
