// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// pre-recorded audio API. It implements the transcribe.Transcriber interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voxmetra/voxmetra/pkg/audio"
	"github.com/voxmetra/voxmetra/pkg/provider/transcribe"
	"github.com/voxmetra/voxmetra/pkg/types"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	listenPath      = "/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition
// (e.g., "en", "de-DE"). A per-request language overrides it.
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithBaseURL overrides the Deepgram API base URL. Useful for tests and
// self-hosted Deepgram deployments.
func WithBaseURL(baseURL string) Option {
	return func(t *Transcriber) {
		t.baseURL = baseURL
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		t.httpClient = c
	}
}

// Transcriber implements transcribe.Transcriber backed by the Deepgram
// pre-recorded API.
type Transcriber struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe submits the recording to Deepgram and maps the first channel's
// best alternative into a Result with word-level timing.
func (t *Transcriber) Transcribe(ctx context.Context, enc audio.EncodedAudio, language string) (*transcribe.Result, error) {
	reqURL, err := t.buildURL(enc, language)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(enc.Data))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	req.Header.Set("Content-Type", contentType(enc.Encoding))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}
	return parseResponse(data)
}

// buildURL constructs the pre-recorded endpoint URL for the given recording.
// Raw PCM needs explicit format parameters; WAV carries them in its header.
func (t *Transcriber) buildURL(enc audio.EncodedAudio, language string) (string, error) {
	u, err := url.Parse(t.baseURL + listenPath)
	if err != nil {
		return "", err
	}

	lang := language
	if lang == "" {
		lang = t.language
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	if enc.Encoding == audio.EncodingPCM {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(enc.Format.SampleRate))
		q.Set("channels", strconv.Itoa(enc.Format.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// contentType maps an audio encoding to the request content type.
func contentType(enc audio.Encoding) string {
	switch enc {
	case audio.EncodingWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// ---- response parsing ----

// deepgramResponse is the JSON structure returned by the pre-recorded API.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseResponse maps a raw Deepgram response body into a Result. A response
// without alternatives (no speech found) yields an empty Result, not an error.
func parseResponse(data []byte) (*transcribe.Result, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return &transcribe.Result{}, nil
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	words := make([]types.WordTiming, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordTiming{
			Word:             w.Word,
			StartTimeSeconds: w.Start,
			EndTimeSeconds:   w.End,
			Confidence:       w.Confidence,
		})
	}

	return &transcribe.Result{
		Transcript: alt.Transcript,
		Confidence: alt.Confidence,
		Words:      words,
	}, nil
}

// Ensure Transcriber implements transcribe.Transcriber at compile time.
var _ transcribe.Transcriber = (*Transcriber)(nil)
