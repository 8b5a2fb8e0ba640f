package health

import "errors"

var (
	// ErrStopped is returned by Tracker methods called after Stop.
	ErrStopped = errors.New("health: tracker stopped")

	// ErrNotStarted is returned by Tracker methods called before Start.
	ErrNotStarted = errors.New("health: tracker not started")
)
