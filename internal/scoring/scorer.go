// Package scoring provides the anomaly-scoring capability used by ingestion
// workers.
//
// The pipeline only depends on the Scorer interface; a model-serving client
// can be dropped in without touching the gateway. Baseline is the built-in
// implementation: a per-device statistical baseline kept in a bounded LRU.
package scoring

import (
	"context"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// Scorer assigns an anomaly score to a reading. Implementations must be
// safe for concurrent use; workers call Score in parallel for different
// devices.
type Scorer interface {
	Score(ctx context.Context, r telemetry.Reading) (telemetry.Score, error)
}

// Func adapts an ordinary function to the Scorer interface.
type Func func(ctx context.Context, r telemetry.Reading) (telemetry.Score, error)

// Score calls f(ctx, r).
func (f Func) Score(ctx context.Context, r telemetry.Reading) (telemetry.Score, error) {
	return f(ctx, r)
}

// Nop scores every reading zero.
var Nop Scorer = Func(func(context.Context, telemetry.Reading) (telemetry.Score, error) {
	return telemetry.Score{}, nil
})
