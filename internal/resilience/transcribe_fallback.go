package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
)

// ErrAllBackendsFailed is returned when every transcription backend in the
// chain either failed or had an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all transcription backends failed")

// FallbackConfig configures the per-backend [Breaker] created for each entry
// in a [TranscribeFallback] chain. The Name field is overwritten with each
// backend's name.
type FallbackConfig struct {
	Breaker BreakerConfig
}

// backendEntry pairs one transcription backend with its dedicated breaker.
type backendEntry struct {
	name    string
	t       transcribe.Transcriber
	breaker *Breaker
}

// TranscribeFallback implements [transcribe.Transcriber] with ordered
// failover. Each backend gets its own circuit breaker, so a flapping primary
// stops being tried while its fallbacks carry the load — and gets probed
// back into rotation once its cool-down elapses.
type TranscribeFallback struct {
	cfg FallbackConfig

	mu       sync.Mutex
	backends []backendEntry
}

// Compile-time interface assertion.
var _ transcribe.Transcriber = (*TranscribeFallback)(nil)

// NewTranscribeFallback creates a chain with primary as the preferred
// backend. Register fallbacks with [TranscribeFallback.AddFallback].
func NewTranscribeFallback(primary transcribe.Transcriber, primaryName string, cfg FallbackConfig) *TranscribeFallback {
	f := &TranscribeFallback{cfg: cfg}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends a backend to the chain. Backends are tried in
// registration order.
func (f *TranscribeFallback) AddFallback(name string, t transcribe.Transcriber) {
	bc := f.cfg.Breaker
	bc.Name = name
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backends = append(f.backends, backendEntry{
		name:    name,
		t:       t,
		breaker: NewBreaker(bc),
	})
}

// Transcribe submits the recording to the first healthy backend. Backends
// with open breakers are skipped without being called; a failing backend's
// error is logged and the next one is tried. When every backend fails the
// last error is wrapped in [ErrAllBackendsFailed].
func (f *TranscribeFallback) Transcribe(ctx context.Context, enc audio.EncodedAudio, language string) (*transcribe.Result, error) {
	f.mu.Lock()
	chain := f.backends
	f.mu.Unlock()

	var lastErr error
	for i := range chain {
		b := &chain[i]

		var result *transcribe.Result
		err := b.breaker.Do(func() error {
			var callErr error
			result, callErr = b.t.Transcribe(ctx, enc, language)
			return callErr
		})
		if err == nil {
			if i > 0 {
				slog.Info("transcription served by fallback backend",
					"backend", b.name, "position", i)
			}
			return result, nil
		}

		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping transcription backend, circuit open", "backend", b.name)
			continue
		}
		slog.Warn("transcription backend failed, failing over",
			"backend", b.name, "err", err)
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllBackendsFailed, lastErr)
}
