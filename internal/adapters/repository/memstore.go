package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aidenrawles/synergy/internal/domain/model"
)

const backendMemory = "memory"

type studentRow struct {
	marks model.Marks
	score model.IndividualScore
}

type groupRow struct {
	membersCount int
	members      []string
	rating       model.GroupRating
	preferences  []model.Preference
}

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu         sync.RWMutex
	students   map[string]*studentRow
	groups     map[int64]*groupRow
	projects   map[string]model.Project
	order      []string
	allocation *model.AllocationResult
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students: map[string]*studentRow{},
		groups:   map[int64]*groupRow{},
		projects: map[string]model.Project{},
	}
}

// PutProject inserts or replaces a project.
func (s *MemoryStore) PutProject(p model.Project) error {
	if p.ID == "" || p.Slots < 0 {
		return fmt.Errorf("%w: project %q slots %d", ErrInvalidInput, p.ID, p.Slots)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	p.Tags = append([]model.TagWeight(nil), p.Tags...)
	s.projects[p.ID] = p
	return nil
}

// PutGroup inserts or replaces a group's membership. Its rating and
// preferences are kept when the group already exists.
func (s *MemoryStore) PutGroup(groupID int64, membersCount int, members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		g = &groupRow{rating: model.GroupRating{}}
		s.groups[groupID] = g
	}
	g.membersCount = membersCount
	g.members = append([]string(nil), members...)
	for _, id := range members {
		if _, ok := s.students[id]; !ok {
			s.students[id] = &studentRow{}
		}
	}
}

// PutPreferences replaces a group's preferences, keeping them in the order
// given.
func (s *MemoryStore) PutPreferences(groupID int64, prefs []model.Preference) error {
	if err := model.ValidatePreferences(prefs); err != nil {
		return fmt.Errorf("%w: group %d: %w", ErrInvalidInput, groupID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	g.preferences = append([]model.Preference(nil), prefs...)
	return nil
}

func (s *MemoryStore) SaveTranscript(_ context.Context, studentID string, marks model.Marks) error {
	start := time.Now()
	s.mu.Lock()
	s.student(studentID).marks = copyMarks(marks)
	s.mu.Unlock()
	observe(backendMemory, "save_transcript", start, nil)
	return nil
}

func (s *MemoryStore) Transcript(_ context.Context, studentID string) (model.Marks, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[studentID]
	if !ok {
		return nil, fmt.Errorf("student %s: %w", studentID, ErrNotFound)
	}
	return copyMarks(st.marks), nil
}

func (s *MemoryStore) SaveIndividualScore(_ context.Context, studentID string, score model.IndividualScore) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(model.IndividualScore, len(score))
	for k, v := range score {
		cp[k] = v
	}
	s.student(studentID).score = cp
	observe(backendMemory, "save_individual_score", start, nil)
	return nil
}

func (s *MemoryStore) GroupsForStudent(_ context.Context, studentID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for id, g := range s.groups {
		for _, m := range g.members {
			if m == studentID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) Roster(_ context.Context, groupID int64) (model.Roster, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return model.Roster{}, fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	r := model.Roster{GroupID: groupID, MembersCount: g.membersCount}
	for _, id := range g.members {
		ratings := map[string]float64{}
		if st, ok := s.students[id]; ok {
			for c, v := range st.score {
				ratings[string(c)] = float64(v)
			}
		}
		r.Members = append(r.Members, model.MemberScores{StudentID: id, StudentRatings: ratings})
	}
	observe(backendMemory, "roster", start, nil)
	return r, nil
}

func (s *MemoryStore) SaveGroupRating(_ context.Context, groupID int64, rating model.GroupRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group %d: %w", groupID, ErrNotFound)
	}
	g.rating = copyRating(rating)
	return nil
}

func (s *MemoryStore) Projects(_ context.Context) ([]model.Project, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Project, 0, len(s.order))
	for _, id := range s.order {
		p := s.projects[id]
		p.Tags = append([]model.TagWeight(nil), p.Tags...)
		out = append(out, p)
	}
	observe(backendMemory, "projects", start, nil)
	return out, nil
}

func (s *MemoryStore) GroupPreferences(_ context.Context) ([]model.Group, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]model.Group, 0, len(ids))
	for _, id := range ids {
		g := s.groups[id]
		out = append(out, model.Group{
			ID:          id,
			Rating:      copyRating(g.rating),
			Preferences: append([]model.Preference(nil), g.preferences...),
		})
	}
	observe(backendMemory, "group_preferences", start, nil)
	return out, nil
}

func (s *MemoryStore) ReplaceAllocation(_ context.Context, r model.AllocationResult) error {
	start := time.Now()
	cp := model.AllocationResult{
		RunID:       r.RunID,
		Allocated:   make(map[int64]string, len(r.Allocated)),
		Unallocated: append([]int64{}, r.Unallocated...),
		CompletedAt: r.CompletedAt,
	}
	for k, v := range r.Allocated {
		cp.Allocated[k] = v
	}
	s.mu.Lock()
	s.allocation = &cp
	s.mu.Unlock()
	observe(backendMemory, "replace_allocation", start, nil)
	return nil
}

func (s *MemoryStore) Allocation(_ context.Context) (model.AllocationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.allocation == nil {
		return model.AllocationResult{}, fmt.Errorf("allocation: %w", ErrNotFound)
	}
	cp := *s.allocation
	cp.Allocated = make(map[int64]string, len(s.allocation.Allocated))
	for k, v := range s.allocation.Allocated {
		cp.Allocated[k] = v
	}
	cp.Unallocated = append([]int64{}, s.allocation.Unallocated...)
	return cp, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// student returns the row for id, creating it. Callers hold s.mu.
func (s *MemoryStore) student(id string) *studentRow {
	st, ok := s.students[id]
	if !ok {
		st = &studentRow{}
		s.students[id] = st
	}
	return st
}

func copyMarks(m model.Marks) model.Marks {
	out := make(model.Marks, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyRating(r model.GroupRating) model.GroupRating {
	out := make(model.GroupRating, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
