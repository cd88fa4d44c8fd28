// Package mock provides test doubles for the transcribe package interfaces.
//
// Use Transcriber to return a canned Result and inspect which recordings were
// submitted:
//
//	tr := &mock.Transcriber{
//	    Result: &transcribe.Result{Transcript: "hello world"},
//	}
//	got, _ := tr.Transcribe(ctx, enc, "en")
package mock

import (
	"context"
	"sync"

	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Audio is the encoded recording passed to Transcribe.
	Audio audio.EncodedAudio
	// Language is the language tag passed to Transcribe.
	Language string
}

// Transcriber is a mock implementation of transcribe.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call. If nil, a Result with an
	// empty transcript is returned.
	Result *transcribe.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (t *Transcriber) Transcribe(ctx context.Context, enc audio.EncodedAudio, language string) (*transcribe.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, TranscribeCall{Audio: enc, Language: language})
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Result != nil {
		return t.Result, nil
	}
	return &transcribe.Result{}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Transcriber implements transcribe.Transcriber at compile time.
var _ transcribe.Transcriber = (*Transcriber)(nil)
