package scheduler

import "errors"

var (
	ErrInvalidSchedule = errors.New("invalid allocation schedule")
	ErrNotStarted      = errors.New("scheduler not started")
)
