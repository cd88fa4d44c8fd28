package transcribe

import "github.com/voxmetra/voxmetra/pkg/types"

// Result is a completed transcription.
type Result struct {
	// Transcript is the full transcribed text.
	Transcript string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// Words contains per-word timing detail when the provider supports it
	// (Deepgram does; whisper.cpp and plain OpenAI do not). Nil otherwise.
	Words []types.WordTiming
}

// HasWordTimings reports whether the result carries per-word detail usable
// for pacing and pause analysis.
func (r *Result) HasWordTimings() bool {
	return r != nil && len(r.Words) > 0
}
