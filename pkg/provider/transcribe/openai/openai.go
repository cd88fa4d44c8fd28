// Package openai provides a transcriber backed by the OpenAI audio
// transcription API.
//
// The API returns plain transcript text without per-word timing, so Results
// carry nil Words. It is typically configured as a fallback behind Deepgram:
// the recording still gets a transcript and feedback when the primary
// provider is down, while pacing metrics fall back to defaults.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
)

// Transcriber implements transcribe.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the transcriber.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithModel overrides the default whisper-1 transcription model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI Transcriber.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	model := oai.AudioModelWhisper1
	if cfg.model != "" {
		model = oai.AudioModel(cfg.model)
	}

	client := oai.NewClient(reqOpts...)
	return &Transcriber{client: client, model: model}, nil
}

// Transcribe implements transcribe.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, enc audio.EncodedAudio, language string) (*transcribe.Result, error) {
	wav, err := toWAV(enc)
	if err != nil {
		return nil, err
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: t.model,
	}
	if language != "" {
		params.Language = param.NewOpt(language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription request: %w", err)
	}

	return &transcribe.Result{Transcript: resp.Text}, nil
}

// toWAV returns the recording as WAV bytes, wrapping raw PCM if needed.
func toWAV(enc audio.EncodedAudio) ([]byte, error) {
	switch enc.Encoding {
	case audio.EncodingWAV:
		return enc.Data, nil
	case audio.EncodingPCM:
		if enc.Format.SampleRate <= 0 || enc.Format.Channels <= 0 {
			return nil, fmt.Errorf("openai: raw PCM needs a sample rate and channel count, got %dHz %dch",
				enc.Format.SampleRate, enc.Format.Channels)
		}
		return audio.EncodeWAV(enc.Data, enc.Format.SampleRate, enc.Format.Channels), nil
	default:
		return nil, fmt.Errorf("openai: unsupported encoding %q", enc.Encoding)
	}
}

// Ensure Transcriber implements transcribe.Transcriber at compile time.
var _ transcribe.Transcriber = (*Transcriber)(nil)
