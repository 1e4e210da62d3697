package model

import (
	"fmt"
	"sort"
	"time"
)

// AllocationResult partitions every group of a run into allocated and
// unallocated.
type AllocationResult struct {
	RunID       string           `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Allocated   map[int64]string `json:"allocated" yaml:"allocated"`
	Unallocated []int64          `json:"unallocated" yaml:"unallocated"`
	CompletedAt time.Time        `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// NewAllocationResult returns an empty result ready to be filled.
func NewAllocationResult() AllocationResult {
	return AllocationResult{Allocated: map[int64]string{}, Unallocated: []int64{}}
}

// ProjectOf returns the project a group was allocated to.
func (r AllocationResult) ProjectOf(groupID int64) (string, bool) {
	p, ok := r.Allocated[groupID]
	return p, ok
}

// IsUnallocated reports whether the group ended up unallocated.
func (r AllocationResult) IsUnallocated(groupID int64) bool {
	for _, id := range r.Unallocated {
		if id == groupID {
			return true
		}
	}
	return false
}

// AllocatedGroupIDs returns allocated group ids in ascending order.
func (r AllocationResult) AllocatedGroupIDs() []int64 {
	ids := make([]int64, 0, len(r.Allocated))
	for id := range r.Allocated {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate checks the partition against the snapshot it was computed from:
// every group sits on exactly one side, no project exceeds its slots and
// every allocation matches one of the group's preferences.
func (r AllocationResult) Validate(s Snapshot) error {
	slots := make(map[string]int, len(s.Projects))
	for _, p := range s.Projects {
		slots[p.ID] = p.Slots
	}

	seen := make(map[int64]bool, len(s.Groups))
	prefs := make(map[int64]map[string]bool, len(s.Groups))
	for _, g := range s.Groups {
		seen[g.ID] = false
		prefs[g.ID] = make(map[string]bool, len(g.Preferences))
		for _, p := range g.Preferences {
			prefs[g.ID][p.ProjectID] = true
		}
	}

	used := make(map[string]int)
	for gid, pid := range r.Allocated {
		done, known := seen[gid]
		if !known {
			return fmt.Errorf("%w: group %d is not in the snapshot", ErrInvalidPartition, gid)
		}
		if done {
			return fmt.Errorf("%w: group %d appears twice", ErrInvalidPartition, gid)
		}
		if !prefs[gid][pid] {
			return fmt.Errorf("%w: group %d allocated to %q which it did not prefer", ErrInvalidPartition, gid, pid)
		}
		seen[gid] = true
		used[pid]++
		if used[pid] > slots[pid] {
			return fmt.Errorf("%w: project %q over capacity (%d > %d)", ErrInvalidPartition, pid, used[pid], slots[pid])
		}
	}
	for _, gid := range r.Unallocated {
		done, known := seen[gid]
		if !known {
			return fmt.Errorf("%w: group %d is not in the snapshot", ErrInvalidPartition, gid)
		}
		if done {
			return fmt.Errorf("%w: group %d appears twice", ErrInvalidPartition, gid)
		}
		seen[gid] = true
	}
	for gid, done := range seen {
		if !done {
			return fmt.Errorf("%w: group %d missing from result", ErrInvalidPartition, gid)
		}
	}
	return nil
}
