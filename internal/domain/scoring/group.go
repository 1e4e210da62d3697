package scoring

import (
	"context"
	"sort"

	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/skill"
	"github.com/aidenrawles/synergy/pkg/logger"
)

const defaultMinMembers = 5

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithMinMembers sets the smallest group size that can be rated.
func WithMinMembers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.minMembers = n
		}
	}
}

// WithLogger sets the logger used to report unknown skill names.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// Aggregator rates groups from their members' individual scores.
type Aggregator struct {
	minMembers int
	log        logger.Logger
}

// NewAggregator creates an Aggregator with defaults: five members minimum and
// a discarding logger.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		minMembers: defaultMinMembers,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GroupResult is the outcome of rating one roster.
type GroupResult struct {
	Rating        model.GroupRating
	Eligible      bool
	UnknownSkills []string
}

// Eligible reports whether the roster may be rated: the group is big enough,
// every member is present and every member has at least one score.
func (a *Aggregator) Eligible(r model.Roster) bool {
	if r.MembersCount < a.minMembers || len(r.Members) != r.MembersCount {
		return false
	}
	for _, m := range r.Members {
		if len(m.StudentRatings) == 0 {
			return false
		}
	}
	return true
}

// Aggregate rates the roster. Ineligible rosters get an empty rating. For an
// eligible roster each category is the mean of its two highest member scores,
// where a member without the category contributes nothing.
func (a *Aggregator) Aggregate(ctx context.Context, r model.Roster) GroupResult {
	if !a.Eligible(r) {
		return GroupResult{Rating: model.GroupRating{}}
	}

	top := make(map[skill.Category]*[2]float64, len(skill.All()))
	for _, c := range skill.All() {
		top[c] = &[2]float64{}
	}

	unknown := map[string]struct{}{}
	for _, m := range r.Members {
		for name, v := range m.StudentRatings {
			pair, ok := top[skill.Category(name)]
			if !ok {
				unknown[name] = struct{}{}
				continue
			}
			switch {
			case v > pair[0]:
				pair[1] = pair[0]
				pair[0] = v
			case v > pair[1]:
				pair[1] = v
			}
		}
	}

	rating := make(model.GroupRating, len(top))
	for c, pair := range top {
		rating[c] = (pair[0] + pair[1]) / 2
	}

	res := GroupResult{Rating: rating, Eligible: true}
	if len(unknown) > 0 {
		for name := range unknown {
			res.UnknownSkills = append(res.UnknownSkills, name)
		}
		sort.Strings(res.UnknownSkills)
		a.log.Warn(ctx, "ignoring unknown skill names in roster",
			logger.Int64("group_id", r.GroupID),
			logger.Any("skills", res.UnknownSkills))
	}
	return res
}
