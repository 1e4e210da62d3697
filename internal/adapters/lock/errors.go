package lock

import "errors"

var (
	// ErrLocked is returned when another holder owns the lock.
	ErrLocked = errors.New("lock already held")
	// ErrUnavailable is returned when the lock backend cannot be reached.
	ErrUnavailable = errors.New("lock backend unavailable")
)
