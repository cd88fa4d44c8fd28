package progress

import (
	"maps"
	"slices"
	"time"

	"github.com/voxmetra/voxmetra/pkg/types"
)

// recordedSessionsCap bounds the idempotency trail. Old ids age out; a
// replay older than the trail is treated as a new session, which the
// revision check upstream makes harmless in practice.
const recordedSessionsCap = 512

// RecordSession folds one session's metrics into the user's progress
// document and returns the updated copy. The input is never mutated.
//
// sessionID is an idempotency key: a session already present in the
// recorded-sessions trail makes this a no-op returning an unchanged copy.
func RecordSession(progress *types.UserProgress, sessionID string, metrics types.SpeechMetrics, now time.Time) *types.UserProgress {
	updated := Clone(progress)
	if sessionID != "" && updated.HasRecordedSession(sessionID) {
		return updated
	}

	wpm := 0.0
	if metrics.WordsPerMinute != nil {
		wpm = *metrics.WordsPerMinute
	}

	weekID := WeekID(now)
	week := updated.Week(weekID)
	n := week.TotalSessions
	week.WordsPerMinute = incrementalMean(week.WordsPerMinute, n, wpm)
	week.FillerWordPercentage = incrementalMean(week.FillerWordPercentage, n, metrics.FillerWords.Percentage)
	week.ClarityScore = incrementalMean(week.ClarityScore, n, metrics.ClarityScore)
	week.TotalSessions = n + 1
	if updated.WeeklyProgress == nil {
		updated.WeeklyProgress = make(map[string]types.WeeklyAggregate, 1)
	}
	updated.WeeklyProgress[weekID] = week

	life := updated.SessionCount
	updated.AverageWordsPerMinute = incrementalMean(updated.AverageWordsPerMinute, life, wpm)
	updated.AverageFillerWordPercentage = incrementalMean(updated.AverageFillerWordPercentage, life, metrics.FillerWords.Percentage)
	updated.AverageClarityScore = incrementalMean(updated.AverageClarityScore, life, metrics.ClarityScore)
	updated.SessionCount = life + 1
	updated.TotalSpeakingTime += metrics.DurationSeconds

	if sessionID != "" {
		updated.RecordedSessions = append(updated.RecordedSessions, sessionID)
		if overflow := len(updated.RecordedSessions) - recordedSessionsCap; overflow > 0 {
			updated.RecordedSessions = slices.Clone(updated.RecordedSessions[overflow:])
		}
	}
	return updated
}

// incrementalMean folds one more sample into a running mean over n samples:
// (mean*n + x) / (n+1).
func incrementalMean(mean float64, n int, x float64) float64 {
	return (mean*float64(n) + x) / float64(n+1)
}

// Clone deep-copies a progress document so callers can mutate freely.
func Clone(p *types.UserProgress) *types.UserProgress {
	if p == nil {
		return &types.UserProgress{}
	}
	out := *p
	out.WeeklyProgress = maps.Clone(p.WeeklyProgress)
	out.Achievements = slices.Clone(p.Achievements)
	out.RecordedSessions = slices.Clone(p.RecordedSessions)
	return &out
}
