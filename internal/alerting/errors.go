package alerting

import "errors"

var (
	// ErrStopped is returned by Notify after Stop.
	ErrStopped = errors.New("alerting: dispatcher stopped")

	// ErrQueueFull is returned by Notify when the delivery queue is full.
	ErrQueueFull = errors.New("alerting: delivery queue full")

	// ErrUnknownSink is returned by Build for an unsupported sink type.
	ErrUnknownSink = errors.New("alerting: unknown sink type")

	// ErrDeliveryFailed wraps a sink's Send failure.
	ErrDeliveryFailed = errors.New("alerting: delivery failed")
)
