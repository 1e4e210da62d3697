package service

import "errors"

// Sentinel kinds for service errors. The HTTP layer maps each to a status.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownGroup      = errors.New("unknown group")
	ErrNoAllocation      = errors.New("no allocation has run yet")
	ErrRunInProgress     = errors.New("allocation already running")
	ErrFetchProjects     = errors.New("failed to fetch projects")
	ErrFetchPreferences  = errors.New("failed to fetch group preferences")
	ErrPersistAllocation = errors.New("failed to persist allocation")
	ErrPersist           = errors.New("failed to persist")
	ErrLockUnavailable   = errors.New("run lock unavailable")
)
