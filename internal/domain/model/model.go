// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"

	"github.com/aidenrawles/synergy/internal/domain/skill"
)

// Marks maps a course code (e.g. "COMP1531") to a mark in 0..100.
type Marks map[string]float64

// IndividualScore maps each category to a 0..10 score for one student.
type IndividualScore map[skill.Category]int

// GroupRating maps categories to a group's aggregated rating. An empty
// rating means the group cannot be rated yet and is never allocated.
type GroupRating map[skill.Category]float64

// Ratable reports whether the rating carries at least one category.
func (r GroupRating) Ratable() bool { return len(r) > 0 }

// TagWeight is one (skill tag, weight) pair of a project.
type TagWeight struct {
	Tag    skill.Category `json:"tag" yaml:"tag"`
	Weight float64        `json:"weight" yaml:"weight"`
}

// Project is an allocatable project with a slot capacity.
type Project struct {
	ID    string      `json:"project_id" yaml:"project_id"`
	Slots int         `json:"slots" yaml:"slots"`
	Tags  []TagWeight `json:"tags" yaml:"tags"`
}

// Preference is one ranked project choice of a group. Rank 1 is the
// strongest preference.
type Preference struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	Rank      int    `json:"preference_rank" yaml:"preference_rank"`
}

// Preference ranks run from MinRank (strongest) to MaxRank.
const (
	MinRank = 1
	MaxRank = 7
)

// ValidatePreferences checks that every rank is within MinRank..MaxRank and
// that no rank or project appears twice in one group's list.
func ValidatePreferences(prefs []Preference) error {
	ranks := make(map[int]struct{}, len(prefs))
	projects := make(map[string]struct{}, len(prefs))
	for _, p := range prefs {
		if p.ProjectID == "" {
			return fmt.Errorf("%w: empty project id", ErrInvalidPreference)
		}
		if p.Rank < MinRank || p.Rank > MaxRank {
			return fmt.Errorf("%w: project %s rank %d", ErrInvalidPreference, p.ProjectID, p.Rank)
		}
		if _, dup := ranks[p.Rank]; dup {
			return fmt.Errorf("%w: rank %d declared twice", ErrInvalidPreference, p.Rank)
		}
		if _, dup := projects[p.ProjectID]; dup {
			return fmt.Errorf("%w: project %s declared twice", ErrInvalidPreference, p.ProjectID)
		}
		ranks[p.Rank] = struct{}{}
		projects[p.ProjectID] = struct{}{}
	}
	return nil
}

// Group is the allocation view of a group: its rating and its preferences
// in declaration order.
type Group struct {
	ID          int64        `json:"group_id" yaml:"group_id"`
	Rating      GroupRating  `json:"group_ratings" yaml:"group_ratings"`
	Preferences []Preference `json:"preferred_projects" yaml:"preferred_projects"`
}

// MemberScores is one roster entry: a member's skill name -> score. Keys
// are raw wire names because rosters may carry names outside the six
// categories.
type MemberScores struct {
	StudentID      string             `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	StudentRatings map[string]float64 `json:"student_ratings" yaml:"student_ratings"`
}

// Roster is the member list used to rate a group.
type Roster struct {
	GroupID      int64          `json:"group_id"`
	MembersCount int            `json:"members_count"`
	Members      []MemberScores `json:"user_ratings"`
}

// Snapshot is the full input of one allocation run.
type Snapshot struct {
	Projects []Project `json:"projects" yaml:"projects"`
	Groups   []Group   `json:"groups" yaml:"groups"`
}

// GroupRefresh asks for a group's rating to be recomputed after one of its
// members changed.
type GroupRefresh struct {
	GroupID     int64
	StudentID   string
	RequestedAt time.Time
}
