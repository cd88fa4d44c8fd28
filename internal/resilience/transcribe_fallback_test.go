package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
)

type stubTranscriber struct {
	transcript string
	err        error
	calls      int
}

func (s *stubTranscriber) Transcribe(context.Context, audio.EncodedAudio, string) (*transcribe.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &transcribe.Result{Transcript: s.transcript}, nil
}

func TestTranscribeFallback_PrimaryWins(t *testing.T) {
	t.Parallel()

	primary := &stubTranscriber{transcript: "from primary"}
	backup := &stubTranscriber{transcript: "from backup"}

	f := NewTranscribeFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	res, err := f.Transcribe(context.Background(), audio.EncodedAudio{}, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Transcript != "from primary" {
		t.Errorf("Transcript = %q, want the primary's result", res.Transcript)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times with a healthy primary", backup.calls)
	}
}

func TestTranscribeFallback_FailsOver(t *testing.T) {
	t.Parallel()

	primary := &stubTranscriber{err: errors.New("quota exceeded")}
	backup := &stubTranscriber{transcript: "from backup"}

	f := NewTranscribeFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	res, err := f.Transcribe(context.Background(), audio.EncodedAudio{}, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Transcript != "from backup" {
		t.Errorf("Transcript = %q, want the backup's result", res.Transcript)
	}
}

func TestTranscribeFallback_AllFail(t *testing.T) {
	t.Parallel()

	f := NewTranscribeFallback(&stubTranscriber{err: errors.New("down")}, "primary", FallbackConfig{})
	f.AddFallback("backup", &stubTranscriber{err: errors.New("also down")})

	if _, err := f.Transcribe(context.Background(), audio.EncodedAudio{}, "en"); !errors.Is(err, ErrAllBackendsFailed) {
		t.Errorf("err = %v, want ErrAllBackendsFailed", err)
	}
}

func TestTranscribeFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	t.Parallel()

	primary := &stubTranscriber{err: errors.New("deepgram: 502")}
	backup := &stubTranscriber{transcript: "from backup"}

	f := NewTranscribeFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{TripAfter: 1, CoolDown: time.Hour},
	})
	f.AddFallback("backup", backup)

	// The first recording trips the primary's breaker and lands on the backup.
	if _, err := f.Transcribe(context.Background(), audio.EncodedAudio{}, "en"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	// The next recording goes straight to the backup; the primary's breaker
	// is open so the backend is not even called.
	res, err := f.Transcribe(context.Background(), audio.EncodedAudio{}, "en")
	if err != nil {
		t.Fatalf("Transcribe with open primary breaker: %v", err)
	}
	if res.Transcript != "from backup" {
		t.Errorf("Transcript = %q, want the backup's result", res.Transcript)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1: the open breaker must short-circuit", primary.calls)
	}
}

func TestTranscribeFallback_CancellationDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	primary := &stubTranscriber{err: context.Canceled}
	backup := &stubTranscriber{transcript: "from backup"}

	f := NewTranscribeFallback(primary, "primary", FallbackConfig{
		Breaker: BreakerConfig{TripAfter: 2, CoolDown: time.Hour},
	})
	f.AddFallback("backup", backup)

	// Abandoned uploads surface the caller's cancellation; they must not
	// count against the primary's health.
	for i := 0; i < 5; i++ {
		f.Transcribe(context.Background(), audio.EncodedAudio{}, "en")
	}

	primary.err = nil
	primary.transcript = "from primary"
	res, err := f.Transcribe(context.Background(), audio.EncodedAudio{}, "en")
	if err != nil {
		t.Fatalf("Transcribe after primary recovers: %v", err)
	}
	if res.Transcript != "from primary" {
		t.Errorf("Transcript = %q, want the primary's result: its breaker should still be closed", res.Transcript)
	}
}
