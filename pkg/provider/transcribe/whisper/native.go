// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
)

// Compile-time assertion that NativeTranscriber satisfies transcribe.Transcriber.
var _ transcribe.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements transcribe.Transcriber using whisper.cpp Go
// bindings (CGO), eliminating HTTP overhead entirely. The model is loaded
// once at startup and shared across all transcriptions.
type NativeTranscriber struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*NativeTranscriber)

// WithNativeLanguage sets the default BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(t *NativeTranscriber) { t.language = lang }
}

// NewNative creates a NativeTranscriber that loads the whisper.cpp model from
// the given file path. The model is loaded once and shared across all
// concurrent transcriptions. The caller must call Close when the transcriber
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &NativeTranscriber{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model. Must be called when the transcriber is no
// longer needed.
func (t *NativeTranscriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe decodes the recording, resamples it to the 16 kHz mono float32
// stream whisper.cpp expects, and runs inference. Each call creates its own
// whisper context from the shared model, so calls can run concurrently.
func (t *NativeTranscriber) Transcribe(ctx context.Context, enc audio.EncodedAudio, language string) (*transcribe.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	pcm, format, err := decodePCM(enc)
	if err != nil {
		return nil, err
	}
	if format.SampleRate != whisperSampleRate {
		pcm = audio.Resample16(pcm, format.Channels, format.SampleRate, whisperSampleRate)
	}
	samples := pcmToFloat32Mono(pcm, format.Channels)

	lang := language
	if lang == "" {
		lang = t.language
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return &transcribe.Result{Transcript: strings.Join(parts, " ")}, nil
}

// decodePCM extracts raw PCM and its format from an encoded recording.
func decodePCM(enc audio.EncodedAudio) ([]byte, audio.Format, error) {
	switch enc.Encoding {
	case audio.EncodingWAV:
		pcm, format, err := audio.DecodeWAV(enc.Data)
		if err != nil {
			return nil, audio.Format{}, fmt.Errorf("whisper: %w", err)
		}
		return pcm, format, nil
	case audio.EncodingPCM:
		if enc.Format.SampleRate <= 0 || enc.Format.Channels <= 0 {
			return nil, audio.Format{}, fmt.Errorf("whisper: raw PCM needs a sample rate and channel count, got %dHz %dch",
				enc.Format.SampleRate, enc.Format.Channels)
		}
		return enc.Data, enc.Format, nil
	default:
		return nil, audio.Format{}, fmt.Errorf("whisper: unsupported encoding %q", enc.Encoding)
	}
}
