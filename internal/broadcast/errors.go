package broadcast

import "errors"

var (
	// ErrStopped is returned by hub calls after Close.
	ErrStopped = errors.New("broadcast: hub stopped")

	// ErrNotStarted is returned by hub calls before Start.
	ErrNotStarted = errors.New("broadcast: hub not started")

	// ErrUnknownClient is returned for a client ID that is not attached.
	ErrUnknownClient = errors.New("broadcast: unknown client")

	// ErrDuplicateClient is returned when attaching an ID already in use.
	ErrDuplicateClient = errors.New("broadcast: client already attached")
)
