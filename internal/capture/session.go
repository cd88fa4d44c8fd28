package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/pkg/audio"
)

var (
	// ErrDeviceUnavailable is returned by Start when no capture source is
	// available.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrInvalidStateTransition is returned when an operation is not valid
	// in the session's current state.
	ErrInvalidStateTransition = errors.New("capture: invalid state transition")
)

// Status is the lifecycle state of a capture session.
type Status string

const (
	StatusInactive  Status = "inactive"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Channel capacities for the live consumer streams. Sends never block: a
// slow consumer loses frames rather than stalling the capture loop.
const (
	vizChannelCap     = 64
	qualityChannelCap = 16
)

// Clock abstracts wall time so tests can pin session timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the wall clock. Recording time itself is measured in
// media time from frame durations, so this only affects timestamps.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// Session owns one recording: it drains frames from its source on a single
// writer goroutine, accumulates them in an in-memory buffer, runs the
// quality monitor, and publishes visualization and quality ticks on bounded
// channels.
//
// All exported methods are safe for concurrent use; the frame buffer itself
// is touched only by the capture loop.
type Session struct {
	capture config.CaptureConfig
	src     audio.Source
	clock   Clock

	monitor *QualityMonitor
	stats   *SessionStats

	viz     chan audio.Frame
	quality chan QualityInfo
	done    chan struct{}

	mu          sync.Mutex
	status      Status
	cancelled   bool
	autoStopped bool
	claimed     bool
	startedAt   time.Time
	elapsed     time.Duration

	// buf and format belong to the capture loop until done is closed.
	buf    []byte
	format audio.Format
}

// NewSession creates an inactive session reading from src.
func NewSession(capture config.CaptureConfig, quality config.QualityConfig, src audio.Source, opts ...Option) *Session {
	s := &Session{
		capture: capture,
		src:     src,
		clock:   systemClock{},
		monitor: NewQualityMonitor(quality),
		stats:   NewSessionStats(0),
		viz:     make(chan audio.Frame, vizChannelCap),
		quality: make(chan QualityInfo, qualityChannelCap),
		done:    make(chan struct{}),
		status:  StatusInactive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start transitions Inactive → Recording and launches the capture loop.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.src == nil {
		return ErrDeviceUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInactive {
		return ErrInvalidStateTransition
	}
	s.status = StatusRecording
	s.startedAt = s.clock.Now()
	s.monitor.Reset()

	go s.loop()
	return nil
}

// Pause transitions Recording → Paused. Frames arriving while paused are
// discarded and elapsed time does not advance.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording {
		return ErrInvalidStateTransition
	}
	s.status = StatusPaused
	return nil
}

// Resume transitions Paused → Recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return ErrInvalidStateTransition
	}
	s.status = StatusRecording
	return nil
}

// Stop finishes the recording: the session transitions to Completed, frames
// already queued by the source are flushed into the buffer, and the raw PCM
// capture is returned for post-processing.
//
// After an auto-stop at the duration limit the first explicit Stop still
// succeeds and hands back the recording.
func (s *Session) Stop() (audio.EncodedAudio, error) {
	s.mu.Lock()
	switch s.status {
	case StatusRecording, StatusPaused:
		s.status = StatusCompleted
		s.claimed = true
		s.mu.Unlock()
	case StatusCompleted:
		claimable := s.autoStopped && !s.cancelled && !s.claimed
		if !claimable {
			s.mu.Unlock()
			return audio.EncodedAudio{}, ErrInvalidStateTransition
		}
		s.claimed = true
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return audio.EncodedAudio{}, ErrInvalidStateTransition
	}

	s.src.Close()
	<-s.done

	return audio.EncodedAudio{
		Data:     s.buf,
		Encoding: audio.EncodingPCM,
		Format:   s.format,
	}, nil
}

// Cancel discards the recording from any started state. No audio is
// retained and no post-processing happens.
func (s *Session) Cancel() error {
	s.mu.Lock()
	switch s.status {
	case StatusInactive:
		s.mu.Unlock()
		return ErrInvalidStateTransition
	case StatusCompleted:
		s.cancelled = true
		s.mu.Unlock()
		<-s.done
		s.buf = nil
		return nil
	default:
		s.status = StatusCompleted
		s.cancelled = true
		s.mu.Unlock()
	}

	s.src.Close()
	<-s.done

	s.buf = nil
	return nil
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cancelled reports whether the session ended by Cancel.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// AutoStopped reports whether the session hit its duration limit.
func (s *Session) AutoStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoStopped
}

// Elapsed returns accumulated recording time. Time spent paused does not
// count.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// StartedAt returns when the session entered Recording.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Interruptions returns the silence-interruption count observed so far.
func (s *Session) Interruptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor.Interruptions()
}

// Stats returns a point-in-time view of session counters.
func (s *Session) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Visualization returns the live level-frame stream. Closed when the
// session completes or is cancelled.
func (s *Session) Visualization() <-chan audio.Frame {
	return s.viz
}

// Quality returns the live quality-tick stream. Closed when the session
// completes or is cancelled.
func (s *Session) Quality() <-chan QualityInfo {
	return s.quality
}

// Done is closed once the capture loop has drained its source.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// loop is the single writer over the frame buffer. It runs from Start until
// the source's frame channel closes.
func (s *Session) loop() {
	defer close(s.done)
	defer close(s.viz)
	defer close(s.quality)

	maxDur := time.Duration(s.capture.MaxDurationSeconds * float64(time.Second))

	vizPeriod := time.Duration(0)
	if s.capture.VisualizationHz > 0 {
		vizPeriod = time.Second / time.Duration(s.capture.VisualizationHz)
	}
	qualityPeriod := 0.0
	if s.capture.QualityPollHz > 0 {
		qualityPeriod = 1.0 / float64(s.capture.QualityPollHz)
	}

	var lastViz time.Duration
	var qualityAcc float64

	for f := range s.src.Frames() {
		s.mu.Lock()
		paused := s.status == StatusPaused
		cancelled := s.cancelled
		s.mu.Unlock()

		if cancelled || paused {
			// Paused sessions discard input rather than buffering it.
			s.stats.IncrDiscarded()
			continue
		}

		if s.format.SampleRate == 0 {
			s.format = audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
		}
		s.buf = append(s.buf, f.Data...)

		peak := audio.PeakLevel(f.Data)
		s.stats.RecordFrame(peak)

		s.mu.Lock()
		s.elapsed += f.Duration()
		elapsed := s.elapsed
		s.mu.Unlock()

		if vizPeriod > 0 && elapsed-lastViz >= vizPeriod {
			lastViz = elapsed
			select {
			case s.viz <- audio.Frame{
				Data:       f.Data,
				SampleRate: f.SampleRate,
				Channels:   f.Channels,
				Timestamp:  elapsed,
			}:
			default:
				s.stats.IncrDroppedViz()
			}
		}

		if qualityPeriod > 0 {
			qualityAcc += f.Duration().Seconds()
			for qualityAcc >= qualityPeriod {
				qualityAcc -= qualityPeriod
				noise := audio.LowBandLevel(f.Data, f.SampleRate)
				info := s.monitor.Observe(peak, noise, qualityPeriod)
				if !info.IsGood {
					s.stats.IncrQualityBad()
				}
				select {
				case s.quality <- info:
				default:
				}
			}
		}

		if maxDur > 0 && elapsed >= maxDur {
			s.autoStop()
		}
	}
}

// autoStop completes the session from inside the capture loop once the
// duration limit is reached. The recording stays claimable by Stop.
func (s *Session) autoStop() {
	// Close first so the flag is only observable once pushes already fail.
	// PushSource.Close is idempotent, so racing an explicit Stop is fine.
	s.src.Close()

	s.mu.Lock()
	if s.status != StatusCompleted {
		s.status = StatusCompleted
		s.autoStopped = true
	}
	s.mu.Unlock()
}
