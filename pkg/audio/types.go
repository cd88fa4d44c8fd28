package audio

import "time"

// Frame is a single frame of PCM audio flowing through the capture pipeline.
// Frames are the atomic unit of transport: pushed by ingest sources, buffered
// by capture sessions, and consumed by the post-processor.
type Frame struct {
	// Data is interleaved little-endian 16-bit PCM.
	Data []byte

	// SampleRate in Hz (e.g. 48000 from mobile clients, 22050 canonical).
	SampleRate int

	// Channels is the interleaved channel count (1 = mono).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the play time the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Encoding identifies the container of an encoded recording.
type Encoding string

const (
	// EncodingWAV is a canonical RIFF/WAVE container with 16-bit linear PCM.
	EncodingWAV Encoding = "wav"

	// EncodingPCM is a bare interleaved little-endian 16-bit PCM payload with
	// no container. Used for the uncompressed pass-through path.
	EncodingPCM Encoding = "pcm"
)

// EncodedAudio is a finished recording artifact as handed to the
// transcription collaborator or offered to the caller as a fallback.
type EncodedAudio struct {
	Data     []byte
	Encoding Encoding
	Format   Format
}

// DurationSeconds returns the play time of the encoded payload.
func (e EncodedAudio) DurationSeconds() float64 {
	if e.Format.SampleRate <= 0 || e.Format.Channels <= 0 {
		return 0
	}
	payload := e.Data
	if e.Encoding == EncodingWAV && len(payload) >= wavHeaderSize {
		payload = payload[wavHeaderSize:]
	}
	samples := len(payload) / 2 / e.Format.Channels
	return float64(samples) / float64(e.Format.SampleRate)
}
