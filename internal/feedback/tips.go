// Package feedback turns a session's metrics into coaching advice: an
// ordered rule pass produces concrete tips, and an optional LLM stage
// rephrases them into a short encouraging summary.
package feedback

import (
	"fmt"
	"sort"

	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// Tip is a single piece of actionable delivery advice.
type Tip struct {
	Priority int    // Higher = more important (1-10)
	RuleID   string // Identifier for testing/logging (e.g., "filler_rate_high")
	Message  string // Human-readable advice (1-2 sentences)
}

// QualitySummary condenses the live quality monitoring of one session into
// the facts the feedback rules care about.
type QualitySummary struct {
	// LowVolume and Clipping report whether the respective issue was raised
	// at any point during the session.
	LowVolume bool
	Clipping  bool

	// Interruptions is the silence-interruption count at session end.
	Interruptions int
}

// Filler-share bands for the rule pass, in percent of the transcript.
const (
	fillerHighPct     = 15.0
	fillerModeratePct = 8.0
)

const (
	longPauseCount  = 3
	rapidBurstCount = 5
	lowClarityScore = 50.0
)

// RuleTips evaluates the rule set against one session and returns the
// surviving tips, highest priority first, capped at cfg.Feedback.MaxTips.
func RuleTips(cfg *config.Config, metrics types.SpeechMetrics, quality QualitySummary) []Tip {
	var tips []Tip
	fired := make(map[string]bool)

	rules := []func(*config.Config, types.SpeechMetrics, QualitySummary) *Tip{
		tipFillerHigh,
		tipFillerModerate,
		tipPaceFast,
		tipPaceSlow,
		tipLongPauses,
		tipRapidBursts,
		tipLowClarity,
		tipLowVolume,
		tipClipping,
		tipInterruptions,
	}

	for _, rule := range rules {
		if tip := rule(cfg, metrics, quality); tip != nil {
			tips = append(tips, *tip)
			fired[tip.RuleID] = true
		}
	}

	tips = applyExclusions(tips, fired)

	sort.SliceStable(tips, func(i, j int) bool {
		return tips[i].Priority > tips[j].Priority
	})

	if max := cfg.Feedback.MaxTips; max > 0 && len(tips) > max {
		tips = tips[:max]
	}
	return tips
}

// applyExclusions removes tips that are redundant when a more specific tip
// has already fired. "pace_fast" is implied by "rapid_bursts", and a high
// filler rate already explains a low clarity score.
func applyExclusions(tips []Tip, fired map[string]bool) []Tip {
	var result []Tip
	for _, tip := range tips {
		switch tip.RuleID {
		case "pace_fast":
			if fired["rapid_bursts"] {
				continue
			}
		case "low_clarity":
			if fired["filler_rate_high"] {
				continue
			}
		}
		result = append(result, tip)
	}
	return result
}

func tipFillerHigh(_ *config.Config, m types.SpeechMetrics, _ QualitySummary) *Tip {
	if m.FillerWords.Percentage < fillerHighPct {
		return nil
	}
	return &Tip{
		Priority: 9,
		RuleID:   "filler_rate_high",
		Message: fmt.Sprintf("Filler words made up %.0f%% of this session. Try pausing silently instead of saying \"um\" or \"uh\" — a beat of silence sounds more confident than a filler.",
			m.FillerWords.Percentage),
	}
}

func tipFillerModerate(_ *config.Config, m types.SpeechMetrics, _ QualitySummary) *Tip {
	if m.FillerWords.Percentage < fillerModeratePct || m.FillerWords.Percentage >= fillerHighPct {
		return nil
	}
	return &Tip{
		Priority: 5,
		RuleID:   "filler_rate_moderate",
		Message: fmt.Sprintf("You used %d filler words. Notice the spots where they appear and practice letting the sentence land without them.",
			m.FillerWords.Count),
	}
}

func tipPaceFast(cfg *config.Config, m types.SpeechMetrics, _ QualitySummary) *Tip {
	if m.WordsPerMinute == nil || *m.WordsPerMinute <= cfg.Analysis.IdealRateMaxWPM {
		return nil
	}
	return &Tip{
		Priority: 6,
		RuleID:   "pace_fast",
		Message: fmt.Sprintf("You averaged %.0f words per minute, above the %.0f–%.0f range listeners follow best. Slow down on the points you want to stick.",
			*m.WordsPerMinute, cfg.Analysis.IdealRateMinWPM, cfg.Analysis.IdealRateMaxWPM),
	}
}

func tipPaceSlow(cfg *config.Config, m types.SpeechMetrics, _ QualitySummary) *Tip {
	if m.WordsPerMinute == nil || *m.WordsPerMinute >= cfg.Analysis.IdealRateMinWPM {
		return nil
	}
	return &Tip{
		Priority: 6,
		RuleID:   "pace_slow",
		Message: fmt.Sprintf("You averaged %.0f words per minute, below the %.0f–%.0f range. Picking up the pace a little keeps listeners engaged.",
			*m.WordsPerMinute, cfg.Analysis.IdealRateMinWPM, cfg.Analysis.IdealRateMaxWPM),
	}
}

func tipLongPauses(_ *config.Config, m types.SpeechMetrics, _ QualitySummary) *Tip {
	if len(m.Pauses) < longPauseCount {
		return nil
	}
	return &Tip{
		Priority: 4,
		RuleID:   "long_pauses",
		Message: fmt.Sprintf("There were %d long pauses. Short pauses add emphasis, but gaps over a second and a half can read as losing the thread.",
			len(m.Pauses)),
	}
}

func tipRapidBursts(_ *config.Config, m types.SpeechMetrics, _ QualitySummary) *Tip {
	if len(m.RapidWords) < rapidBurstCount {
		return nil
	}
	return &Tip{
		Priority: 7,
		RuleID:   "rapid_bursts",
		Message:  "Several stretches were rushed. Take a breath before key phrases so they come out at a steady pace.",
	}
}

func tipLowClarity(_ *config.Config, m types.SpeechMetrics, _ QualitySummary) *Tip {
	if m.ClarityScore >= lowClarityScore {
		return nil
	}
	return &Tip{
		Priority: 8,
		RuleID:   "low_clarity",
		Message: fmt.Sprintf("Clarity came out at %.0f/100 this session. Focus on finishing each word fully before starting the next.",
			m.ClarityScore),
	}
}

func tipLowVolume(_ *config.Config, _ types.SpeechMetrics, q QualitySummary) *Tip {
	if !q.LowVolume {
		return nil
	}
	return &Tip{
		Priority: 8,
		RuleID:   "low_volume",
		Message:  "Your recording level was low for part of the session. Move closer to the microphone or raise the input gain.",
	}
}

func tipClipping(_ *config.Config, _ types.SpeechMetrics, q QualitySummary) *Tip {
	if !q.Clipping {
		return nil
	}
	return &Tip{
		Priority: 9,
		RuleID:   "clipping",
		Message:  "The signal clipped during the session. Lower the input gain or back off the microphone slightly to avoid distortion.",
	}
}

func tipInterruptions(cfg *config.Config, _ types.SpeechMetrics, q QualitySummary) *Tip {
	if q.Interruptions <= cfg.Quality.MaxInterruptions {
		return nil
	}
	return &Tip{
		Priority: 3,
		RuleID:   "interruptions",
		Message: fmt.Sprintf("The recording went silent %d times. A quieter environment or a closer microphone keeps the session continuous.",
			q.Interruptions),
	}
}
