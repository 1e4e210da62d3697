package model

import "errors"

var (
	// ErrInvalidPartition marks an AllocationResult that breaks the partition
	// invariants for its snapshot.
	ErrInvalidPartition = errors.New("invalid allocation partition")
	// ErrInvalidPreference marks a preference list with an out of range or
	// repeated rank, or a repeated project.
	ErrInvalidPreference = errors.New("invalid preference")
)
