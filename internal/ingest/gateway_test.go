package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/scoring"
	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sensorReading(device string, i int) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:         device,
		Timestamp:        base.Add(time.Duration(i) * time.Second),
		Temperature:      -20,
		Vibration:        telemetry.Vibration{X: 0.1, Y: 0.1, Z: 0.1},
		PowerConsumption: 45,
		AudioLevel:       900,
		Quality:          0.8,
	}
}

// pcm encodes n samples alternating between +v and -v.
func pcm(n int, v int16) []byte {
	raw := make([]byte, n*telemetry.BytesPerSample)
	for i := range n {
		s := v
		if i%2 == 1 {
			s = -v
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	return raw
}

type recorder struct {
	mu  sync.Mutex
	got []Scored
}

func (r *recorder) Process(_ context.Context, s Scored) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return nil
}

func (r *recorder) all() []Scored {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Scored(nil), r.got...)
}

func stop(t *testing.T, g *Gateway) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSubmitRejectsInvalidChunks(t *testing.T) {
	g := NewGateway(Config{Workers: 1}, nil, &recorder{})

	tests := []struct {
		name   string
		device string
		raw    []byte
		rate   int
	}{
		{"empty device", "", pcm(200, 100), 16000},
		{"unsupported rate", "comp-1", pcm(200, 100), 22050},
		{"odd length", "comp-1", append(pcm(200, 100), 0x01), 16000},
		{"too few samples", "comp-1", pcm(99, 100), 16000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := g.Submit(tt.device, tt.raw, tt.rate, PriorityNormal)
			if ok {
				t.Fatal("Submit() accepted an invalid chunk")
			}
			if !errors.Is(err, telemetry.ErrInvalidReading) {
				t.Errorf("Submit() error = %v, want ErrInvalidReading", err)
			}
		})
	}

	m := g.Metrics()
	if m.Rejected != int64(len(tests)) || m.QueueDepth != 0 {
		t.Errorf("Metrics = %+v, want %d rejected and empty queue", m, len(tests))
	}
}

func TestSubmitReadingValidates(t *testing.T) {
	g := NewGateway(Config{Workers: 1}, nil, &recorder{})

	bad := sensorReading("comp-1", 0)
	bad.Quality = 1.5
	if ok, err := g.SubmitReading(bad, PriorityNormal); ok || !errors.Is(err, telemetry.ErrInvalidReading) {
		t.Errorf("SubmitReading(bad quality) = %v, %v", ok, err)
	}

	if ok, err := g.SubmitReading(sensorReading("comp-1", 0), PriorityNormal); !ok || err != nil {
		t.Errorf("SubmitReading(valid) = %v, %v", ok, err)
	}
}

// Scenario D: 1,000 submissions against 4 workers and a 50 slot queue.
func TestBackpressureUnderLoad(t *testing.T) {
	gate := make(chan struct{})
	proc := ProcessorFunc(func(context.Context, Scored) error {
		<-gate
		return nil
	})

	g := NewGateway(Config{Workers: 4, QueueCapacity: 50}, nil, proc)
	g.Start(context.Background())

	var accepted, dropped int
	for i := range 1000 {
		ok, err := g.SubmitReading(sensorReading(fmt.Sprintf("comp-%d", i%10), i), PriorityNormal)
		switch {
		case ok:
			accepted++
		case errors.Is(err, telemetry.ErrBackpressure):
			dropped++
		default:
			t.Fatalf("SubmitReading() unexpected error = %v", err)
		}
	}
	close(gate)
	stop(t, g)

	if dropped == 0 {
		t.Error("expected some submissions to hit backpressure")
	}
	if accepted+dropped != 1000 {
		t.Errorf("accepted %d + dropped %d != 1000", accepted, dropped)
	}
	if accepted > 50+4 {
		t.Errorf("accepted %d, more than queue capacity plus workers", accepted)
	}

	m := g.Metrics()
	if m.ProcessedChunks+m.FailedChunks > int64(accepted) {
		t.Errorf("processed %d + failed %d > accepted %d", m.ProcessedChunks, m.FailedChunks, accepted)
	}
	if m.ProcessedChunks != int64(accepted) {
		t.Errorf("processed %d, want all %d accepted after drain", m.ProcessedChunks, accepted)
	}
	if m.BackpressureDrops != int64(dropped) {
		t.Errorf("BackpressureDrops = %d, want %d", m.BackpressureDrops, dropped)
	}
}

func TestPerDeviceOrderWithParallelWorkers(t *testing.T) {
	rec := &recorder{}
	g := NewGateway(Config{Workers: 4, QueueCapacity: 1000}, nil, rec)
	g.Start(context.Background())

	devices := []string{"comp-a", "comp-b", "comp-c"}
	for i := range 300 {
		if ok, err := g.SubmitReading(sensorReading(devices[i%3], i), PriorityNormal); !ok {
			t.Fatalf("SubmitReading() error = %v", err)
		}
	}
	stop(t, g)

	last := map[string]time.Time{}
	for _, s := range rec.all() {
		id := s.Reading.DeviceID
		if !s.Reading.Timestamp.After(last[id]) {
			t.Fatalf("%s processed out of order: %v after %v", id, s.Reading.Timestamp, last[id])
		}
		last[id] = s.Reading.Timestamp
	}
	if n := len(rec.all()); n != 300 {
		t.Errorf("processed %d readings, want 300", n)
	}
}

func TestAudioChunkMergesLastSensors(t *testing.T) {
	rec := &recorder{}
	g := NewGateway(Config{Workers: 2}, nil, rec)
	g.Start(context.Background())

	if ok, err := g.SubmitReading(sensorReading("comp-1", 0), PriorityNormal); !ok {
		t.Fatalf("SubmitReading() error = %v", err)
	}
	if ok, err := g.Submit("comp-1", pcm(400, 1000), 16000, PriorityUrgent); !ok {
		t.Fatalf("Submit() error = %v", err)
	}
	if ok, err := g.Submit("comp-2", pcm(400, 300), 8000, PriorityNormal); !ok {
		t.Fatalf("Submit() error = %v", err)
	}
	stop(t, g)

	var audio1, audio2 *telemetry.Reading
	for _, s := range rec.all() {
		r := s.Reading
		switch {
		case r.DeviceID == "comp-1" && r.AudioLevel == 1000:
			audio1 = &r
		case r.DeviceID == "comp-2":
			audio2 = &r
		}
	}
	if audio1 == nil || audio2 == nil {
		t.Fatalf("audio readings not processed: %+v", rec.all())
	}
	if audio1.Temperature != -20 || audio1.PowerConsumption != 45 || audio1.Quality != 0.8 {
		t.Errorf("comp-1 audio reading did not take last sensors: %+v", *audio1)
	}
	if audio2.AudioLevel != 300 || audio2.Quality != 1 {
		t.Errorf("comp-2 audio reading = %+v", *audio2)
	}

	dev, ok := g.Registry().Get("comp-2")
	if !ok || dev.SampleRate != 8000 {
		t.Errorf("registry entry for comp-2 = %+v, %v", dev, ok)
	}
}

func TestScorerFailureLowersQuality(t *testing.T) {
	rec := &recorder{}
	failing := scoring.Func(func(context.Context, telemetry.Reading) (telemetry.Score, error) {
		return telemetry.Score{}, errors.New("model unavailable")
	})
	g := NewGateway(Config{Workers: 1}, failing, rec)
	g.Start(context.Background())

	_, _ = g.SubmitReading(sensorReading("comp-1", 0), PriorityNormal)
	stop(t, g)

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("processed %d, want 1 (scorer failures are still forwarded)", len(got))
	}
	if !errors.Is(got[0].ScoreErr, telemetry.ErrScorer) {
		t.Errorf("ScoreErr = %v, want ErrScorer", got[0].ScoreErr)
	}
	if got[0].Reading.Quality != lowQuality {
		t.Errorf("Quality = %v, want %v", got[0].Reading.Quality, lowQuality)
	}
	if m := g.Metrics(); m.FailedChunks != 1 || m.ProcessedChunks != 0 {
		t.Errorf("Metrics = %+v, want 1 failed", m)
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	proc := ProcessorFunc(func(_ context.Context, s Scored) error {
		if s.Reading.Temperature == 99 {
			panic("boom")
		}
		return nil
	})
	g := NewGateway(Config{Workers: 1}, nil, proc)
	g.Start(context.Background())

	bad := sensorReading("comp-1", 0)
	bad.Temperature = 99
	_, _ = g.SubmitReading(bad, PriorityNormal)
	_, _ = g.SubmitReading(sensorReading("comp-1", 1), PriorityNormal)
	stop(t, g)

	m := g.Metrics()
	if m.FailedChunks != 1 || m.ProcessedChunks != 1 {
		t.Errorf("Metrics = %+v, want 1 failed and 1 processed", m)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	g := NewGateway(Config{Workers: 1}, nil, &recorder{})
	g.Start(context.Background())
	stop(t, g)

	if ok, err := g.SubmitReading(sensorReading("comp-1", 0), PriorityNormal); ok || !errors.Is(err, ErrStopped) {
		t.Errorf("SubmitReading() after Stop = %v, %v, want ErrStopped", ok, err)
	}
	// Stop is idempotent.
	stop(t, g)
}

func TestStopDeadlineDiscardsQueue(t *testing.T) {
	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, _ Scored) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	g := NewGateway(Config{Workers: 1, QueueCapacity: 10}, nil, proc)
	g.Start(context.Background())
	defer close(release)

	for i := range 5 {
		_, _ = g.SubmitReading(sensorReading("comp-1", i), PriorityNormal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want DeadlineExceeded", err)
	}
	if d := g.Metrics().QueueDepth; d != 0 {
		t.Errorf("QueueDepth after forced stop = %d, want 0", d)
	}
}
