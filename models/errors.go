package models

import "errors"

// Sentinel errors shared across the pipeline. Callers match them with
// errors.Is after the usual %w wrapping.
var (
	// ErrUnsupportedSymbol marks a symbol with no known strike interval.
	// Fatal to the request; never retried.
	ErrUnsupportedSymbol = errors.New("unsupported symbol")

	// ErrExpiryUnavailable marks an expiry fetch failure with no usable
	// cached value. The caller may retry later.
	ErrExpiryUnavailable = errors.New("expiry list unavailable")

	// ErrAlreadyRunning marks a duplicate periodic fetch start for a
	// (symbol, expiry) pair. The existing task keeps running.
	ErrAlreadyRunning = errors.New("periodic fetch already running")

	// ErrNotRunning marks a stop for a (symbol, expiry) pair with no
	// active periodic task.
	ErrNotRunning = errors.New("periodic fetch not running")
)
