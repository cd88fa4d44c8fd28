// Package transcribe defines the Transcriber interface for batch
// speech-to-text backends.
//
// A transcriber wraps a transcription service (e.g., Deepgram, OpenAI, or a
// local whisper.cpp build) behind a uniform request/response interface: one
// encoded recording in, one transcript with optional word-level timing out.
// Word timings drive the downstream speech metrics; providers that cannot
// report them return a Result with nil Words and the analysis layer falls
// back to transcript-only defaults.
//
// Implementations must be safe for concurrent use. A single Transcriber is
// shared across all sessions of a server instance.
package transcribe

import (
	"context"

	"github.com/voxmetra/voxmetra/pkg/audio"
)

// Transcriber is the abstraction over any batch speech-to-text backend.
type Transcriber interface {
	// Transcribe submits one complete recording and blocks until the provider
	// returns a transcript or ctx is cancelled. language is a BCP-47 tag
	// (e.g., "en", "de-DE"); an empty string lets the provider pick its
	// default or auto-detect, if supported.
	//
	// A recording in which the provider finds no speech yields a Result with
	// an empty Transcript and no error.
	Transcribe(ctx context.Context, enc audio.EncodedAudio, language string) (*Result, error)
}
