// Package postprocess turns a raw capture into the canonical recording
// artifact: mono PCM at the configured target rate inside a WAV container.
// The transform is pure; it never touches the filesystem or the network.
package postprocess

import (
	"errors"
	"fmt"

	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/pkg/audio"
)

var (
	// ErrUnsupportedFormat is returned when the input recording cannot be
	// interpreted (no channels, no sample rate, empty payload).
	ErrUnsupportedFormat = errors.New("postprocess: unsupported audio format")

	// ErrEncodingError is returned when the canonical artifact cannot be
	// produced. Callers keep the raw capture when they see it.
	ErrEncodingError = errors.New("postprocess: encoding failed")
)

// Processor converts raw captures to the canonical recording format.
type Processor struct {
	targetRate int
	compress   bool
}

// New creates a Processor from the capture configuration.
func New(cfg config.CaptureConfig) *Processor {
	compress := true
	if cfg.Compression != nil {
		compress = *cfg.Compression
	}
	return &Processor{
		targetRate: cfg.TargetSampleRate,
		compress:   compress,
	}
}

// Process downmixes to mono, resamples to the target rate and wraps the
// result in a WAV container. With compression disabled the raw capture is
// passed through unchanged.
//
// Input already in the canonical format round-trips: the PCM payload comes
// out bit-identical, only the container is added.
func (p *Processor) Process(raw audio.EncodedAudio) (audio.EncodedAudio, error) {
	pcm := raw.Data
	format := raw.Format

	if raw.Encoding == audio.EncodingWAV {
		decoded, decodedFormat, err := audio.DecodeWAV(raw.Data)
		if err != nil {
			return audio.EncodedAudio{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		pcm = decoded
		format = decodedFormat
	}

	if format.Channels <= 0 || format.SampleRate <= 0 {
		return audio.EncodedAudio{}, fmt.Errorf("%w: %d channels at %d Hz",
			ErrUnsupportedFormat, format.Channels, format.SampleRate)
	}
	if len(pcm) == 0 {
		return audio.EncodedAudio{}, fmt.Errorf("%w: empty recording", ErrUnsupportedFormat)
	}
	if len(pcm)%(format.Channels*2) != 0 {
		return audio.EncodedAudio{}, fmt.Errorf("%w: payload not sample-aligned", ErrUnsupportedFormat)
	}

	if !p.compress {
		return raw, nil
	}
	if p.targetRate <= 0 {
		return audio.EncodedAudio{}, fmt.Errorf("%w: target rate %d", ErrEncodingError, p.targetRate)
	}

	mono := audio.DownmixMono(pcm, format.Channels)
	resampled := audio.Resample16(mono, 1, format.SampleRate, p.targetRate)
	if len(resampled) == 0 {
		return audio.EncodedAudio{}, fmt.Errorf("%w: recording shorter than one output sample", ErrEncodingError)
	}

	return audio.EncodedAudio{
		Data:     audio.EncodeWAV(resampled, p.targetRate, 1),
		Encoding: audio.EncodingWAV,
		Format:   audio.Format{SampleRate: p.targetRate, Channels: 1},
	}, nil
}
