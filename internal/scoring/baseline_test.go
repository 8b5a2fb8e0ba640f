package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

func reading(device string, temp, audio float64) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:         device,
		Timestamp:        time.Now(),
		Temperature:      temp,
		Vibration:        telemetry.Vibration{X: 0.1, Y: 0.1, Z: 0.1},
		PowerConsumption: 40,
		AudioLevel:       audio,
		Quality:          1,
	}
}

func TestBaseline_WarmupScoresZero(t *testing.T) {
	b, err := NewBaseline(BaselineConfig{Warmup: 5})
	if err != nil {
		t.Fatalf("NewBaseline() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s, err := b.Score(ctx, reading("comp-1", -20+float64(i%2), 100))
		if err != nil {
			t.Fatalf("Score() error = %v", err)
		}
		if s.Value != 0 || s.Hint != "" {
			t.Errorf("reading %d during warmup scored %+v, want zero", i, s)
		}
	}
}

func TestBaseline_FlagsDeviatingChannel(t *testing.T) {
	b, err := NewBaseline(BaselineConfig{Warmup: 10, Alpha: 0.1})
	if err != nil {
		t.Fatalf("NewBaseline() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		// Small alternating jitter so the baseline has a variance.
		jitter := float64(i%2) * 2
		if _, err := b.Score(ctx, reading("comp-1", -20, 100+jitter)); err != nil {
			t.Fatalf("Score() error = %v", err)
		}
	}

	steady, err := b.Score(ctx, reading("comp-1", -20, 101))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	spike, err := b.Score(ctx, reading("comp-1", -20, 5000))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	if spike.Value <= steady.Value {
		t.Errorf("spike score %v should exceed steady score %v", spike.Value, steady.Value)
	}
	if spike.Value < 0.9 {
		t.Errorf("spike score = %v, want >= 0.9", spike.Value)
	}
	if spike.Hint != HintAcousticDeviation {
		t.Errorf("spike hint = %q, want %q", spike.Hint, HintAcousticDeviation)
	}
	if spike.Value > 1 || spike.Value < 0 {
		t.Errorf("score %v outside [0,1]", spike.Value)
	}
}

func TestBaseline_DevicesAreIndependent(t *testing.T) {
	b, err := NewBaseline(BaselineConfig{Warmup: 3})
	if err != nil {
		t.Fatalf("NewBaseline() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := b.Score(ctx, reading("comp-1", -20, 100)); err != nil {
			t.Fatalf("Score() error = %v", err)
		}
	}

	// comp-2 has no history, so it is still warming up.
	s, err := b.Score(ctx, reading("comp-2", 30, 9000))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if s.Value != 0 {
		t.Errorf("new device scored %v, want 0", s.Value)
	}
	if b.Devices() != 2 {
		t.Errorf("Devices() = %d, want 2", b.Devices())
	}

	b.Forget("comp-1")
	if b.Devices() != 1 {
		t.Errorf("Devices() after Forget = %d, want 1", b.Devices())
	}
}

func TestBaseline_EvictsLeastRecentlyUsed(t *testing.T) {
	b, err := NewBaseline(BaselineConfig{MaxDevices: 2})
	if err != nil {
		t.Fatalf("NewBaseline() error = %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := b.Score(ctx, reading(id, -20, 100)); err != nil {
			t.Fatalf("Score() error = %v", err)
		}
	}
	if b.Devices() != 2 {
		t.Errorf("Devices() = %d, want 2", b.Devices())
	}
}

func TestBaseline_Errors(t *testing.T) {
	b, err := NewBaseline(BaselineConfig{})
	if err != nil {
		t.Fatalf("NewBaseline() error = %v", err)
	}

	_, err = b.Score(context.Background(), reading("comp-1", math.NaN(), 100))
	if !errors.Is(err, telemetry.ErrScorer) {
		t.Errorf("Score(NaN) error = %v, want ErrScorer", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Score(ctx, reading("comp-1", -20, 100))
	if !errors.Is(err, telemetry.ErrScorer) || !errors.Is(err, context.Canceled) {
		t.Errorf("Score(cancelled) error = %v, want ErrScorer wrapping context.Canceled", err)
	}
}

func TestFuncAndNop(t *testing.T) {
	want := telemetry.Score{Value: 0.5, Hint: "x"}
	var s Scorer = Func(func(context.Context, telemetry.Reading) (telemetry.Score, error) {
		return want, nil
	})
	got, err := s.Score(context.Background(), telemetry.Reading{})
	if err != nil || got != want {
		t.Errorf("Func.Score() = %+v, %v", got, err)
	}

	got, err = Nop.Score(context.Background(), telemetry.Reading{})
	if err != nil || got != (telemetry.Score{}) {
		t.Errorf("Nop.Score() = %+v, %v", got, err)
	}
}

func TestBaseline_SmallJitterAfterFlatWarmup(t *testing.T) {
	b, err := NewBaseline(BaselineConfig{})
	if err != nil {
		t.Fatalf("NewBaseline() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < defaultWarmup; i++ {
		if _, err := b.Score(ctx, reading("comp-1", -20, 100)); err != nil {
			t.Fatalf("Score() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		mutate func(*telemetry.Reading)
	}{
		{"power +0.25%", func(r *telemetry.Reading) { r.PowerConsumption = 40.1 }},
		{"power +1%", func(r *telemetry.Reading) { r.PowerConsumption = 40.4 }},
		{"temperature 1%", func(r *telemetry.Reading) { r.Temperature = -20.2 }},
		{"audio +1%", func(r *telemetry.Reading) { r.AudioLevel = 101 }},
		{"vibration +1%", func(r *telemetry.Reading) { r.Vibration.X = 0.101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := reading("comp-1", -20, 100)
			tt.mutate(&r)
			s, err := b.Score(ctx, r)
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if s.Value >= 0.5 {
				t.Errorf("Score() = %v (%s), want well below the alert threshold", s.Value, s.Hint)
			}
		})
	}
}

func TestBaseline_AudioChunksKeepSeparateBaseline(t *testing.T) {
	b, err := NewBaseline(BaselineConfig{Warmup: 5})
	if err != nil {
		t.Fatalf("NewBaseline() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := b.Score(ctx, reading("comp-1", -20, 100)); err != nil {
			t.Fatalf("Score() error = %v", err)
		}
		chunk := reading("comp-1", -20, 6000)
		chunk.AudioChunk = true
		if _, err := b.Score(ctx, chunk); err != nil {
			t.Fatalf("Score() error = %v", err)
		}
	}

	sensor, err := b.Score(ctx, reading("comp-1", -20, 100))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if sensor.Value >= 0.1 {
		t.Errorf("sensor reading scored %v (%s) after interleaved chunks, want ~0", sensor.Value, sensor.Hint)
	}

	chunk := reading("comp-1", -20, 6000)
	chunk.AudioChunk = true
	s, err := b.Score(ctx, chunk)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if s.Value >= 0.1 {
		t.Errorf("audio chunk scored %v (%s) after interleaved sensors, want ~0", s.Value, s.Hint)
	}

	chunk.AudioLevel = 20000
	s, err = b.Score(ctx, chunk)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if s.Hint != HintAcousticDeviation || s.Value < 0.9 {
		t.Errorf("loud chunk scored %v (%s), want >= 0.9 %s", s.Value, s.Hint, HintAcousticDeviation)
	}
}
