package ingest

import "errors"

var (
	// ErrStopped is returned by Submit after Stop has been called.
	ErrStopped = errors.New("ingest: gateway stopped")

	// ErrUnknownDevice is returned by registry lookups for unseen devices.
	ErrUnknownDevice = errors.New("ingest: unknown device")
)
