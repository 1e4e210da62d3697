// Package allocation assigns groups to projects with a greedy,
// capacity-respecting pass over compatibility-ranked candidates.
//
// The result is deterministic for a given input order but is not optimal:
// a group can lose its only preferred project to a higher-scoring group
// even when another arrangement would place both.
package allocation

import (
	"context"
	"sort"

	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/scoring"
	"github.com/aidenrawles/synergy/pkg/logger"
)

// Candidate is one scored (group, project) pairing.
type Candidate struct {
	Score     float64
	GroupID   int64
	ProjectID string
}

// Stats describes a run beyond its partition.
type Stats struct {
	Candidates     int
	Skipped        int
	Unratable      int
	SlotsRemaining int
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine runs allocations. It holds no per-run state and is safe for
// concurrent use, although callers normally serialise runs.
type Engine struct {
	log logger.Logger
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run partitions the snapshot's groups. Groups are considered in the order
// given and preferences in declaration order; that order breaks score ties.
func (e *Engine) Run(ctx context.Context, s model.Snapshot) (model.AllocationResult, Stats) {
	res := model.NewAllocationResult()

	remaining := make(map[string]int, len(s.Projects))
	for _, p := range s.Projects {
		if p.Slots > 0 {
			remaining[p.ID] = p.Slots
		}
	}

	unallocated := make(map[int64]bool, len(s.Groups))
	markUnallocated := func(id int64) {
		if !unallocated[id] {
			unallocated[id] = true
			res.Unallocated = append(res.Unallocated, id)
		}
	}

	candidates, unratable, stats := e.rank(ctx, s)
	for _, id := range unratable {
		markUnallocated(id)
	}

	for _, c := range candidates {
		if _, done := res.Allocated[c.GroupID]; done {
			continue
		}
		if remaining[c.ProjectID] > 0 {
			res.Allocated[c.GroupID] = c.ProjectID
			remaining[c.ProjectID]--
			if remaining[c.ProjectID] == 0 {
				delete(remaining, c.ProjectID)
			}
			continue
		}
		// A full project only settles the group once nothing is left anywhere;
		// otherwise a later candidate may still place it.
		if len(remaining) == 0 {
			markUnallocated(c.GroupID)
		}
	}

	for _, g := range s.Groups {
		if _, done := res.Allocated[g.ID]; !done {
			markUnallocated(g.ID)
		}
	}

	for _, n := range remaining {
		stats.SlotsRemaining += n
	}

	e.log.Debug(ctx, "allocation pass complete",
		logger.Int("candidates", stats.Candidates),
		logger.Int("allocated", len(res.Allocated)),
		logger.Int("unallocated", len(res.Unallocated)))
	return res, stats
}

// Candidates returns the scored candidates of a snapshot in allocation
// order without allocating anything.
func (e *Engine) Candidates(ctx context.Context, s model.Snapshot) []Candidate {
	c, _, _ := e.rank(ctx, s)
	return c
}

// rank scores every (ratable group, known project) preference and sorts the
// candidates by descending score, keeping generation order for ties.
func (e *Engine) rank(ctx context.Context, s model.Snapshot) ([]Candidate, []int64, Stats) {
	var stats Stats

	projects := make(map[string]model.Project, len(s.Projects))
	for _, p := range s.Projects {
		projects[p.ID] = p
	}

	var unratable []int64
	candidates := make([]Candidate, 0, len(s.Groups))
	for _, g := range s.Groups {
		if !g.Rating.Ratable() {
			unratable = append(unratable, g.ID)
			continue
		}
		for _, pref := range g.Preferences {
			p, ok := projects[pref.ProjectID]
			if !ok {
				stats.Skipped++
				e.log.Warn(ctx, "skipping preference for unknown project",
					logger.Int64("group_id", g.ID),
					logger.String("project_id", pref.ProjectID))
				continue
			}
			candidates = append(candidates, Candidate{
				Score:     scoring.Compatibility(g.Rating, p.Tags, pref.Rank),
				GroupID:   g.ID,
				ProjectID: p.ID,
			})
		}
	}
	stats.Candidates = len(candidates)
	stats.Unratable = len(unratable)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, unratable, stats
}
