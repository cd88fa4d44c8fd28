package audio

import (
	"errors"
	"sync"
)

// sourceBufferFrames bounds the frame channel of a PushSource. At 20 ms per
// frame this is roughly five seconds of audio headroom before Push blocks.
const sourceBufferFrames = 256

// ErrSourceClosed is returned by Push after CloseInput or Close.
var ErrSourceClosed = errors.New("audio: source closed")

// Source delivers PCM frames from a capture transport. Frames returns a
// channel that is closed when the source ends; Close releases the source and
// unblocks any pending producer.
type Source interface {
	Frames() <-chan Frame
	Close() error
}

// PushSource is a Source fed by an external producer, typically the ingest
// handler relaying frames from a client device. Frames are normalized to the
// target format before delivery. Push applies backpressure: when the internal
// buffer is full it blocks until the consumer catches up or the source is
// closed.
type PushSource struct {
	norm   Normalizer
	frames chan Frame

	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex // guards closed and serializes sends against close(frames)
	closed bool
}

var _ Source = (*PushSource)(nil)

// NewPushSource creates a PushSource that normalizes every pushed frame to
// the given target format.
func NewPushSource(target Format) *PushSource {
	return &PushSource{
		norm:   Normalizer{Target: target},
		frames: make(chan Frame, sourceBufferFrames),
		done:   make(chan struct{}),
	}
}

// Push normalizes one frame and queues it for the consumer. It returns
// ErrSourceClosed once the source has been closed.
func (s *PushSource) Push(f Frame) error {
	out := s.norm.Normalize(f)
	if len(out.Data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}
	select {
	case s.frames <- out:
		return nil
	case <-s.done:
		return ErrSourceClosed
	}
}

// CloseInput marks the end of the stream. Queued frames remain readable;
// Frames is closed once they drain.
func (s *PushSource) CloseInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Frames returns the normalized frame stream.
func (s *PushSource) Frames() <-chan Frame {
	return s.frames
}

// Close tears the source down. A blocked Push unblocks with ErrSourceClosed
// and the frame channel is closed.
func (s *PushSource) Close() error {
	s.doneOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *PushSource) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}
