// Package types contains read-side shapes shared by the HTTP API and the
// offline allocation tool.
package types

import (
	"time"

	"github.com/aidenrawles/synergy/internal/domain/model"
)

// Placement is one allocated group.
type Placement struct {
	GroupID   int64  `json:"group_id" yaml:"group_id"`
	ProjectID string `json:"project_id" yaml:"project_id"`
}

// AllocationView is a flattened, ordered rendering of an allocation result.
type AllocationView struct {
	RunID       string      `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Placements  []Placement `json:"allocations" yaml:"allocations"`
	Unallocated []int64     `json:"unallocated" yaml:"unallocated"`
}

// NewAllocationView orders placements by group id and keeps the
// unallocated list in result order.
func NewAllocationView(r model.AllocationResult) AllocationView {
	v := AllocationView{
		RunID:       r.RunID,
		Placements:  make([]Placement, 0, len(r.Allocated)),
		Unallocated: append([]int64{}, r.Unallocated...),
	}
	if !r.CompletedAt.IsZero() {
		t := r.CompletedAt
		v.CompletedAt = &t
	}
	for _, id := range r.AllocatedGroupIDs() {
		v.Placements = append(v.Placements, Placement{GroupID: id, ProjectID: r.Allocated[id]})
	}
	return v
}

// ProjectLoad is how many groups a project received out of its slots.
type ProjectLoad struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	Slots     int    `json:"slots" yaml:"slots"`
	Allocated int    `json:"allocated" yaml:"allocated"`
}

// Loads summarises per-project usage in snapshot order.
func Loads(s model.Snapshot, r model.AllocationResult) []ProjectLoad {
	used := make(map[string]int, len(s.Projects))
	for _, p := range r.Allocated {
		used[p]++
	}
	out := make([]ProjectLoad, 0, len(s.Projects))
	for _, p := range s.Projects {
		out = append(out, ProjectLoad{ProjectID: p.ID, Slots: p.Slots, Allocated: used[p.ID]})
	}
	return out
}
