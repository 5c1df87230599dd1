package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRunning is returned by a claim when the schedule already has
	// a non-terminal execution.
	ErrAlreadyRunning = errors.New("execution already running")
	ErrDuplicate      = errors.New("duplicate")
	// ErrInUse is returned when a row is still referenced or active.
	ErrInUse = errors.New("in use")
	// ErrStale is returned by compare-and-swap updates that lost the race.
	ErrStale = errors.New("stale state")
)
