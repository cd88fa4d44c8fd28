// Package analysis derives delivery metrics from a transcribed recording:
// speaking rate, filler-word usage, pauses, rapid-speech bursts and a
// composite clarity score. Everything here is a pure function of the word
// timings and the configured thresholds.
package analysis

import (
	"strings"
	"time"

	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// DefaultFillerWords is the built-in disfluency lexicon, used when the
// configuration does not override it. Multi-word phrases are matched as
// contiguous token sequences.
var DefaultFillerWords = []string{
	"um", "uh", "like", "so", "you know", "i mean", "actually", "basically",
	"kind of", "sort of", "just", "totally", "literally", "anyway",
	"uhm", "hmm", "ah", "er",
}

// Analyzer computes SpeechMetrics from transcripts. Read-only after
// construction, safe for concurrent use.
type Analyzer struct {
	cfg      config.AnalysisConfig
	lexicon  []lexiconEntry
	variants *variantMatcher
}

// lexiconEntry is one filler phrase, pre-tokenized for n-gram matching.
type lexiconEntry struct {
	phrase string
	tokens []string
}

// New creates an Analyzer with the given thresholds. An empty
// cfg.FillerWords falls back to [DefaultFillerWords].
func New(cfg config.AnalysisConfig) *Analyzer {
	words := cfg.FillerWords
	if len(words) == 0 {
		words = DefaultFillerWords
	}

	a := &Analyzer{cfg: cfg}
	for _, w := range words {
		phrase := strings.ToLower(strings.TrimSpace(w))
		if phrase == "" {
			continue
		}
		a.lexicon = append(a.lexicon, lexiconEntry{
			phrase: phrase,
			tokens: strings.Fields(phrase),
		})
	}
	if cfg.MatchStretchedFillers {
		a.variants = newVariantMatcher(a.lexicon)
	}
	return a
}

// Analyze computes the full metric set for one recording. An empty
// transcript or word-timing list yields zero-valued metrics, never an error:
// a silent recording is a valid session.
func (a *Analyzer) Analyze(transcript string, words []types.WordTiming, confidence float64) types.SpeechMetrics {
	started := time.Now()

	if strings.TrimSpace(transcript) == "" || len(words) == 0 {
		return types.SpeechMetrics{}
	}

	duration := words[len(words)-1].EndTimeSeconds - words[0].StartTimeSeconds
	wpm := SpeakingRate(len(words), duration)
	fillers := a.DetectFillers(words)
	pauses := DetectPauses(words, a.cfg.PauseThresholdSeconds)
	rapid := DetectRapidWords(words, a.cfg.RapidRateWPM)

	return types.SpeechMetrics{
		Transcript:       transcript,
		Confidence:       confidence,
		DurationSeconds:  duration,
		WordCount:        len(words),
		WordsPerMinute:   wpm,
		FillerWords:      fillers,
		ClarityScore:     a.ClarityScore(confidence, fillers.Percentage, wpm),
		Pauses:           pauses,
		RapidWords:       rapid,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
}

// SpeakingRate returns the overall rate in words per minute, or nil when the
// session has no words or a non-positive spoken duration.
func SpeakingRate(wordCount int, durationSeconds float64) *float64 {
	if wordCount < 1 || durationSeconds <= 0 {
		return nil
	}
	rate := float64(wordCount) / (durationSeconds / 60)
	return &rate
}

// DetectFillers matches the lexicon against the word sequence. Matching is
// case-insensitive on punctuation-trimmed tokens; multi-word phrases are
// tried longest-first so "you know" wins over a hypothetical "you" entry.
// Count is in tokens, so a matched two-word phrase contributes two.
func (a *Analyzer) DetectFillers(words []types.WordTiming) types.FillerWordStats {
	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = normalizeToken(w.Word)
	}

	stats := types.FillerWordStats{Occurrences: []types.FillerOccurrence{}}

	for i := 0; i < len(tokens); {
		entry, ok := a.matchAt(tokens, i)
		if !ok {
			i++
			continue
		}
		stats.Count += len(entry.tokens)
		stats.Occurrences = append(stats.Occurrences, types.FillerOccurrence{
			Word:      entry.phrase,
			Timestamp: words[i].StartTimeSeconds,
		})
		i += len(entry.tokens)
	}

	if len(words) > 0 {
		stats.Percentage = float64(stats.Count) / float64(len(words)) * 100
	}
	return stats
}

// matchAt returns the longest lexicon entry matching at position i, falling
// back to stretched-variant matching for single tokens when enabled.
func (a *Analyzer) matchAt(tokens []string, i int) (lexiconEntry, bool) {
	var best lexiconEntry
	for _, entry := range a.lexicon {
		if len(entry.tokens) <= len(best.tokens) {
			continue
		}
		if i+len(entry.tokens) > len(tokens) {
			continue
		}
		matched := true
		for j, et := range entry.tokens {
			if tokens[i+j] != et {
				matched = false
				break
			}
		}
		if matched {
			best = entry
		}
	}
	if len(best.tokens) > 0 {
		return best, true
	}

	if a.variants != nil {
		if base, ok := a.variants.Match(tokens[i]); ok {
			return lexiconEntry{phrase: base, tokens: []string{base}}, true
		}
	}
	return lexiconEntry{}, false
}

// DetectPauses returns every inter-word gap exceeding the threshold, in
// transcript order.
func DetectPauses(words []types.WordTiming, thresholdSeconds float64) []types.Pause {
	pauses := []types.Pause{}
	for i := 1; i < len(words); i++ {
		gap := words[i].StartTimeSeconds - words[i-1].EndTimeSeconds
		if gap <= thresholdSeconds {
			continue
		}
		pauses = append(pauses, types.Pause{
			StartTime:       words[i-1].EndTimeSeconds,
			EndTime:         words[i].StartTimeSeconds,
			DurationSeconds: gap,
			WordBefore:      words[i-1].Word,
			WordAfter:       words[i].Word,
		})
	}
	return pauses
}

// DetectRapidWords slides a 3-word window over the timings and flags the
// middle word when the local rate exceeds rapidRateWPM.
func DetectRapidWords(words []types.WordTiming, rapidRateWPM float64) []types.RapidWord {
	var rapid []types.RapidWord
	for i := 1; i+1 < len(words); i++ {
		span := words[i+1].EndTimeSeconds - words[i-1].StartTimeSeconds
		if span <= 0 {
			continue
		}
		localRate := 3 / (span / 60)
		if localRate <= rapidRateWPM {
			continue
		}
		rapid = append(rapid, types.RapidWord{
			Word:      words[i].Word,
			Timestamp: words[i].StartTimeSeconds,
			LocalRate: localRate,
		})
	}
	return rapid
}

// Saturation points for the clarity components: a filler share of half the
// transcript, or a pace 80 wpm outside the ideal band, zeroes the component.
const (
	fillerSaturationPct = 50.0
	paceSaturationWPM   = 80.0
)

// ClarityScore blends transcription confidence, filler share and pace
// deviation into a 0–100 composite using the configured weights.
func (a *Analyzer) ClarityScore(confidence, fillerPercentage float64, wpm *float64) float64 {
	w := a.cfg.Clarity
	if w.Confidence == 0 && w.Filler == 0 && w.Pace == 0 {
		w = config.ClarityWeights{Confidence: 0.5, Filler: 0.3, Pace: 0.2}
	}
	total := w.Confidence + w.Filler + w.Pace
	if total <= 0 {
		return 0
	}

	confScore := clamp100(confidence * 100)
	fillerScore := clamp100(100 * (1 - fillerPercentage/fillerSaturationPct))

	var paceScore float64
	if wpm != nil {
		dev := 0.0
		switch {
		case *wpm < a.cfg.IdealRateMinWPM:
			dev = a.cfg.IdealRateMinWPM - *wpm
		case *wpm > a.cfg.IdealRateMaxWPM:
			dev = *wpm - a.cfg.IdealRateMaxWPM
		}
		paceScore = clamp100(100 * (1 - dev/paceSaturationWPM))
	}

	score := (w.Confidence*confScore + w.Filler*fillerScore + w.Pace*paceScore) / total
	return clamp100(score)
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// normalizeToken lowercases a transcript token and strips surrounding
// punctuation so "Um," matches the lexicon entry "um".
func normalizeToken(w string) string {
	return strings.ToLower(strings.Trim(w, ".,!?;:\"'()-"))
}
