// Package repository persists students, groups, projects and the latest
// allocation partition. MemoryStore backs tests and single-process
// deployments; PostgresStore backs production.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/pkg/metrics"
)

// Store provides read/write access to allocation state.
type Store interface {
	// SaveTranscript replaces a student's course marks, creating the student
	// if needed.
	SaveTranscript(ctx context.Context, studentID string, marks model.Marks) error
	// Transcript returns a student's stored course marks.
	// Returns ErrNotFound if the student is unknown.
	Transcript(ctx context.Context, studentID string) (model.Marks, error)
	// SaveIndividualScore replaces a student's skill scores, creating the
	// student if needed.
	SaveIndividualScore(ctx context.Context, studentID string, score model.IndividualScore) error
	// GroupsForStudent lists the groups a student belongs to.
	GroupsForStudent(ctx context.Context, studentID string) ([]int64, error)

	// Roster returns the member scores of a group.
	// Returns ErrNotFound if the group is unknown.
	Roster(ctx context.Context, groupID int64) (model.Roster, error)
	// SaveGroupRating replaces a group's rating.
	// Returns ErrNotFound if the group is unknown.
	SaveGroupRating(ctx context.Context, groupID int64, rating model.GroupRating) error

	// Projects returns every project.
	Projects(ctx context.Context) ([]model.Project, error)
	// GroupPreferences returns every group with its rating and its
	// preferences ordered by rank.
	GroupPreferences(ctx context.Context) ([]model.Group, error)

	// ReplaceAllocation atomically overwrites the stored partition.
	ReplaceAllocation(ctx context.Context, r model.AllocationResult) error
	// Allocation returns the stored partition. Returns ErrNotFound before the
	// first run.
	Allocation(ctx context.Context) (model.AllocationResult, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// observe records latency, and failure when err is non-nil, for one store
// operation.
func observe(backend, op string, start time.Time, err error) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreError(backend, op)
	}
}
