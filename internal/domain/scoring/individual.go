// Package scoring turns transcripts into individual skill scores, rosters
// into group ratings, and (group rating, project, rank) into a
// compatibility score used by the allocation engine.
package scoring

import (
	"math"

	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/skill"
)

const (
	maxMark          = 100
	maxCategoryScore = 10
)

// Individual scores a transcript. Each category is the sum of its courses'
// marks (missing courses count as 0) over 100 per course, scaled to 0..10
// and rounded half away from zero. It never fails.
func Individual(marks model.Marks) model.IndividualScore {
	out := make(model.IndividualScore, len(skill.All()))
	for _, c := range skill.All() {
		courses := skill.CoursesFor(c)
		var sum float64
		for _, course := range courses {
			sum += marks[course]
		}
		out[c] = int(math.Round(sum / float64(maxMark*len(courses)) * maxCategoryScore))
	}
	return out
}
