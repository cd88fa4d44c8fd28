package progress

import (
	"fmt"
	"sort"
	"time"

	"github.com/voxmetra/voxmetra/pkg/types"
)

// Achievement ids are persistence-stable; renaming one would re-award it.
const (
	AchievementFillerReduction    = "filler-reduction"
	AchievementPaceImprovement    = "pace-improvement"
	AchievementClarityImprovement = "clarity-improvement"
	AchievementConsistentWeeks    = "consistency-3-weeks"
)

// Relative week-over-week improvement required for the improvement
// achievements.
const (
	fillerImprovementRatio  = 0.20
	paceImprovementRatio    = 0.20
	clarityImprovementRatio = 0.15
)

var sessionMilestones = []struct {
	count int
	title string
}{
	{5, "Getting Started"},
	{10, "Building the Habit"},
	{25, "Dedicated Speaker"},
}

// DetectAchievements evaluates the stateless achievement rules against a
// progress document and returns the newly earned ones. Ids already present
// are never emitted, so running it after every recorded session awards each
// achievement exactly once, at the session that crosses its threshold.
func DetectAchievements(progress *types.UserProgress, now time.Time) []types.Achievement {
	var earned []types.Achievement
	award := func(id, title, description string) {
		if progress.HasAchievement(id) {
			return
		}
		for _, a := range earned {
			if a.ID == id {
				return
			}
		}
		earned = append(earned, types.Achievement{
			ID:          id,
			Title:       title,
			Description: description,
			AchievedAt:  now,
		})
	}

	for _, m := range sessionMilestones {
		if progress.SessionCount >= m.count {
			award(fmt.Sprintf("session-%d", m.count), m.title,
				fmt.Sprintf("Completed %d practice sessions.", m.count))
		}
	}

	if cur, prev, ok := lastTwoWeeks(progress); ok {
		if prev.FillerWordPercentage > 0 &&
			(prev.FillerWordPercentage-cur.FillerWordPercentage)/prev.FillerWordPercentage >= fillerImprovementRatio {
			award(AchievementFillerReduction, "Cleaner Delivery",
				"Cut filler words by at least 20% week over week.")
		}
		if prev.WordsPerMinute > 0 &&
			(cur.WordsPerMinute-prev.WordsPerMinute)/prev.WordsPerMinute >= paceImprovementRatio {
			award(AchievementPaceImprovement, "Picking Up the Pace",
				"Raised speaking pace by at least 20% week over week.")
		}
		if prev.ClarityScore > 0 &&
			(cur.ClarityScore-prev.ClarityScore)/prev.ClarityScore >= clarityImprovementRatio {
			award(AchievementClarityImprovement, "Crystal Clear",
				"Improved clarity score by at least 15% week over week.")
		}
	}

	if consistentWeeks(progress, now, 3) {
		award(AchievementConsistentWeeks, "Showing Up",
			"Practiced in three consecutive weeks.")
	}

	return earned
}

// lastTwoWeeks returns the two most recent weekly aggregates that hold data,
// current first. Week ids are zero-padded so lexical order is chronological.
func lastTwoWeeks(progress *types.UserProgress) (cur, prev types.WeeklyAggregate, ok bool) {
	ids := make([]string, 0, len(progress.WeeklyProgress))
	for id, week := range progress.WeeklyProgress {
		if week.TotalSessions > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return types.WeeklyAggregate{}, types.WeeklyAggregate{}, false
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return progress.WeeklyProgress[ids[0]], progress.WeeklyProgress[ids[1]], true
}

// consistentWeeks reports whether the n calendar weeks ending at now each
// hold at least one session.
func consistentWeeks(progress *types.UserProgress, now time.Time, n int) bool {
	for _, id := range recentWeekIDs(now, n) {
		if progress.Week(id).TotalSessions == 0 {
			return false
		}
	}
	return true
}
