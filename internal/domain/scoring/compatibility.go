package scoring

import "github.com/aidenrawles/synergy/internal/domain/model"

const (
	rankBase = 1.2
	rankStep = 0.1
)

// WeightSum returns the total weight of a project's tags.
func WeightSum(tags []model.TagWeight) float64 {
	var sum float64
	for _, t := range tags {
		sum += t.Weight
	}
	return sum
}

// Subscore is the weight-normalised rating of a group against a project's
// tags. Terms are accumulated in tag order as rating*weight/sum. A project
// whose weights sum to zero scores 0. Tags the group has no rating for
// count as 0.
func Subscore(rating model.GroupRating, tags []model.TagWeight) float64 {
	sum := WeightSum(tags)
	if sum == 0 {
		return 0
	}
	var score float64
	for _, t := range tags {
		score += rating[t.Tag] * t.Weight / sum
	}
	return score
}

// RankMultiplier favours stronger preferences: 1.1 for rank 1 down to 0.5
// for rank 7. Ranks outside 1..7 are not clamped.
func RankMultiplier(rank int) float64 {
	return rankBase - float64(rank)*rankStep
}

// Compatibility scores a group against one of its preferred projects.
func Compatibility(rating model.GroupRating, tags []model.TagWeight, rank int) float64 {
	return Subscore(rating, tags) * RankMultiplier(rank)
}
