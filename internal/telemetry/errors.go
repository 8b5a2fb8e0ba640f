package telemetry

import (
	"errors"
	"fmt"
)

// Pipeline errors. Each stage wraps one of these so callers can test the
// category with errors.Is.
var (
	// ErrInvalidReading is returned when a submission fails validation. It
	// is never retried; the payload is rejected before it reaches the queue.
	ErrInvalidReading = errors.New("telemetry: invalid reading")

	// ErrBackpressure is returned when the ingestion queue is full.
	ErrBackpressure = errors.New("telemetry: ingestion queue full")

	// ErrScorer is returned when the anomaly scorer fails for a reading.
	ErrScorer = errors.New("telemetry: scorer failed")

	// ErrStoreWrite is returned when a reading or anomaly cannot be
	// persisted after retries.
	ErrStoreWrite = errors.New("telemetry: store write failed")

	// ErrBroadcastDelivery is returned when a message cannot be delivered to
	// a live subscriber.
	ErrBroadcastDelivery = errors.New("telemetry: broadcast delivery failed")
)

// ValidationError describes which field of a submission was rejected.
// It unwraps to ErrInvalidReading.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidReading, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidReading
}

// invalid builds a ValidationError.
func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
