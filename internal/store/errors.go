package store

import "errors"

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("store: closed")

	// ErrDeviceNotFound is returned when a device ID is not in the catalogue.
	ErrDeviceNotFound = errors.New("store: device not found")
)
