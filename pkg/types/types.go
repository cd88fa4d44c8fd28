// Package types defines the shared record types used across all voxmetra packages.
//
// These types form the lingua franca between the capture pipeline, the analysis
// stages, the stores, and the ingest API. Field names carry JSON tags because the
// same shapes are exchanged with the persistence collaborator and the mobile
// client — the tagged names (wordsPerMinute, fillerWordPercentage, clarityScore,
// totalSessions, weeklyProgress) are a compatibility contract and must not change.
package types

import "time"

// WordTiming is a single word with its timing boundaries, produced by a
// transcription provider. Sequences are ordered by start time; the analysis
// package relies on that ordering without re-sorting.
type WordTiming struct {
	// Word is the raw token as transcribed, without surrounding whitespace.
	Word string `json:"word"`

	// StartTimeSeconds is the word onset relative to the recording start.
	StartTimeSeconds float64 `json:"startTimeSeconds"`

	// EndTimeSeconds is the word offset relative to the recording start.
	EndTimeSeconds float64 `json:"endTimeSeconds"`

	// Confidence is the per-word confidence (0.0–1.0). Zero when the provider
	// does not report word-level confidence.
	Confidence float64 `json:"confidence,omitempty"`
}

// FillerOccurrence records one matched filler word and when it was spoken.
type FillerOccurrence struct {
	Word      string  `json:"word"`
	Timestamp float64 `json:"timestamp"`
}

// FillerWordStats summarizes filler-word usage for one session.
type FillerWordStats struct {
	// Count is the number of filler tokens matched in the transcript.
	Count int `json:"count"`

	// Percentage is Count relative to the total word count, 0–100.
	Percentage float64 `json:"percentage"`

	// Occurrences lists each match with the matched word's start time.
	Occurrences []FillerOccurrence `json:"occurrences"`
}

// Pause is a silent gap between two consecutive words that exceeded the
// configured pause threshold.
type Pause struct {
	// StartTime is the end time of the word before the gap.
	StartTime float64 `json:"startTime"`

	// EndTime is the start time of the word after the gap.
	EndTime float64 `json:"endTime"`

	// DurationSeconds is EndTime − StartTime.
	DurationSeconds float64 `json:"durationSeconds"`

	// WordBefore and WordAfter bracket the pause for display.
	WordBefore string `json:"wordBefore"`
	WordAfter  string `json:"wordAfter"`
}

// RapidWord flags a word spoken inside a burst that exceeded the rapid-speech
// rate threshold, with the local rate measured over its 3-word window.
type RapidWord struct {
	Word      string  `json:"word"`
	Timestamp float64 `json:"timestamp"`
	LocalRate float64 `json:"localRate"`
}

// SpeechMetrics is the full set of delivery metrics derived from one analyzed
// recording. Created once per session and immutable afterwards.
type SpeechMetrics struct {
	// Transcript is the full transcribed text.
	Transcript string `json:"transcript"`

	// Confidence is the overall transcription confidence (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// DurationSeconds is the spoken duration covered by the word timings.
	DurationSeconds float64 `json:"durationSeconds"`

	// WordCount is the number of words in the transcript.
	WordCount int `json:"wordCount"`

	// WordsPerMinute is the overall speaking rate. Nil when the session had
	// fewer than one word or non-positive duration.
	WordsPerMinute *float64 `json:"wordsPerMinute,omitempty"`

	// FillerWords summarizes disfluency usage.
	FillerWords FillerWordStats `json:"fillerWords"`

	// ClarityScore is the composite delivery score, 0–100.
	ClarityScore float64 `json:"clarityScore"`

	// Pauses lists gaps exceeding the pause threshold, in transcript order.
	Pauses []Pause `json:"pauses"`

	// RapidWords lists words flagged by the sliding-window rapid-speech check.
	RapidWords []RapidWord `json:"rapidWords,omitempty"`

	// ProcessingTimeMs is how long the analysis pipeline took.
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// WeeklyAggregate holds one ISO week's running means. Each mean is updated
// incrementally (newMean = (oldMean*n + x)/(n+1)); means are meaningless and
// stored as zero while TotalSessions is zero.
type WeeklyAggregate struct {
	WordsPerMinute       float64 `json:"wordsPerMinute"`
	FillerWordPercentage float64 `json:"fillerWordPercentage"`
	ClarityScore         float64 `json:"clarityScore"`
	TotalSessions        int     `json:"totalSessions"`
}

// Achievement is one unlocked achievement in a user's append-only list.
type Achievement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AchievedAt  time.Time `json:"achievedAt"`
}

// UserProgress is the per-user longitudinal document: weekly aggregates,
// lifetime counters and means, and unlocked achievements. It is mutated
// exclusively by the aggregation pipeline, never by client-facing code.
type UserProgress struct {
	// UserID identifies the owner.
	UserID string `json:"userId"`

	// WeeklyProgress maps ISO week ids (YYYY-WW) to that week's aggregate.
	WeeklyProgress map[string]WeeklyAggregate `json:"weeklyProgress"`

	// SessionCount is the lifetime number of recorded sessions.
	SessionCount int `json:"sessionCount"`

	// TotalSpeakingTime is the lifetime spoken duration in seconds.
	TotalSpeakingTime float64 `json:"totalSpeakingTime"`

	// Lifetime running means, updated with the same incremental formula as
	// the weekly aggregates.
	AverageWordsPerMinute       float64 `json:"averageWordsPerMinute"`
	AverageFillerWordPercentage float64 `json:"averageFillerWordPercentage"`
	AverageClarityScore         float64 `json:"averageClarityScore"`

	// Achievements is append-only; the evaluator never emits an id that is
	// already present.
	Achievements []Achievement `json:"achievements"`

	// RecordedSessions holds the most recent session ids already folded into
	// this document, newest last. Used as an idempotency guard against
	// replayed aggregation calls.
	RecordedSessions []string `json:"recordedSessions,omitempty"`

	// Revision is the optimistic-concurrency counter maintained by the store.
	// A save with a stale revision is rejected so concurrent aggregations
	// cannot lose updates.
	Revision int64 `json:"revision"`
}

// Week returns the aggregate for the given ISO week id, zero-valued when the
// week has no sessions yet.
func (p *UserProgress) Week(id string) WeeklyAggregate {
	if p.WeeklyProgress == nil {
		return WeeklyAggregate{}
	}
	return p.WeeklyProgress[id]
}

// HasAchievement reports whether the achievement id is already unlocked.
func (p *UserProgress) HasAchievement(id string) bool {
	for _, a := range p.Achievements {
		if a.ID == id {
			return true
		}
	}
	return false
}

// HasRecordedSession reports whether the session id was already aggregated.
func (p *UserProgress) HasRecordedSession(id string) bool {
	for _, s := range p.RecordedSessions {
		if s == id {
			return true
		}
	}
	return false
}

// SessionRecord is the persisted document for one completed session: the
// derived metrics plus identity and the generated coaching feedback.
type SessionRecord struct {
	SessionID string        `json:"sessionId"`
	UserID    string        `json:"userId"`
	Language  string        `json:"language"`
	CreatedAt time.Time     `json:"createdAt"`
	Metrics   SpeechMetrics `json:"metrics"`

	// Feedback holds the coaching sentences shown to the user after the
	// session, highest priority first.
	Feedback []string `json:"feedback,omitempty"`
}
