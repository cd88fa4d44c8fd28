// Package whisper provides a local whisper.cpp-backed transcriber.
//
// Two variants are available. Transcriber talks to a running whisper-server
// binary (which exposes a REST API at POST /inference) and NativeTranscriber
// links whisper.cpp directly via CGO bindings, removing the HTTP hop.
//
// whisper.cpp reports plain text without per-word timing, so both variants
// return Results with nil Words. Recordings transcribed this way still get a
// transcript and feedback; pacing and pause metrics fall back to defaults.
//
// Usage:
//
//	tr, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	res, err := tr.Transcribe(ctx, enc, "en")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
)

const (
	defaultLanguage = "en"

	// whisperSampleRate is the only sample rate whisper.cpp accepts.
	whisperSampleRate = 16000
)

// Compile-time assertion that Transcriber implements transcribe.Transcriber.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the default BCP-47 language code sent to the whisper.cpp
// server (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		t.language = lang
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		t.httpClient = c
	}
}

// Transcriber implements transcribe.Transcriber backed by a local whisper.cpp
// HTTP server. Multiple transcriptions may run concurrently; the server
// queues inference internally.
type Transcriber struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Transcriber that connects to the whisper.cpp HTTP server
// at serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe encodes the recording as WAV, POSTs it to the whisper.cpp
// /inference endpoint as multipart/form-data, and returns the transcribed
// text. Word-level timing is not available from whisper.cpp.
func (t *Transcriber) Transcribe(ctx context.Context, enc audio.EncodedAudio, language string) (*transcribe.Result, error) {
	wav, err := toWAV(enc)
	if err != nil {
		return nil, err
	}

	lang := language
	if lang == "" {
		lang = t.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := t.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return &transcribe.Result{Transcript: result.Text}, nil
}

// toWAV returns the recording as WAV bytes, wrapping raw PCM if needed.
func toWAV(enc audio.EncodedAudio) ([]byte, error) {
	switch enc.Encoding {
	case audio.EncodingWAV:
		return enc.Data, nil
	case audio.EncodingPCM:
		if enc.Format.SampleRate <= 0 || enc.Format.Channels <= 0 {
			return nil, fmt.Errorf("whisper: raw PCM needs a sample rate and channel count, got %dHz %dch",
				enc.Format.SampleRate, enc.Format.Channels)
		}
		return audio.EncodeWAV(enc.Data, enc.Format.SampleRate, enc.Format.Channels), nil
	default:
		return nil, fmt.Errorf("whisper: unsupported encoding %q", enc.Encoding)
	}
}
