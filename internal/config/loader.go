package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcribe": {"deepgram", "whisper", "whisper-native", "openai"},
	"embeddings": {"openai", "ollama"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; soft
// conditions that the server can run with are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)
	for _, fb := range cfg.Providers.TranscribeFallbacks {
		validateProviderName("transcribe", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.Transcribe.Name == "" {
		slog.Warn("no transcribe provider configured; completed sessions will yield zero-metric results")
	}
	for i, fb := range cfg.Providers.TranscribeFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcribe_fallbacks[%d].name is required", i))
		}
	}

	// Capture
	if cfg.Capture.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.target_sample_rate %d must be positive", cfg.Capture.TargetSampleRate))
	}
	if cfg.Capture.MaxDurationSeconds <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_duration_seconds %.1f must be positive", cfg.Capture.MaxDurationSeconds))
	}
	if cfg.Capture.QualityPollHz <= 0 {
		errs = append(errs, fmt.Errorf("capture.quality_poll_hz %d must be positive", cfg.Capture.QualityPollHz))
	}
	if cfg.Capture.VisualizationHz <= 0 || cfg.Capture.VisualizationHz > 60 {
		errs = append(errs, fmt.Errorf("capture.visualization_hz %d is out of range [1, 60]", cfg.Capture.VisualizationHz))
	}
	if cfg.Capture.UnclaimedRetentionSeconds <= 0 {
		errs = append(errs, fmt.Errorf("capture.unclaimed_retention_seconds %.1f must be positive", cfg.Capture.UnclaimedRetentionSeconds))
	}

	// Quality thresholds: the windows must be able to hold the samples the
	// rules inspect.
	if cfg.Quality.VolumeWindow <= 0 {
		errs = append(errs, fmt.Errorf("quality.volume_window %d must be positive", cfg.Quality.VolumeWindow))
	}
	if cfg.Quality.NoiseWindow <= 0 {
		errs = append(errs, fmt.Errorf("quality.noise_window %d must be positive", cfg.Quality.NoiseWindow))
	}
	if cfg.Quality.ClippingSamples > cfg.Quality.VolumeWindow {
		errs = append(errs, fmt.Errorf("quality.clipping_samples %d exceeds quality.volume_window %d",
			cfg.Quality.ClippingSamples, cfg.Quality.VolumeWindow))
	}
	if cfg.Quality.SilenceBelow >= cfg.Quality.LowVolumeBelow {
		slog.Warn("quality.silence_below is not below quality.low_volume_below; interruption detection will trigger alongside every low-volume warning",
			"silence_below", cfg.Quality.SilenceBelow,
			"low_volume_below", cfg.Quality.LowVolumeBelow,
		)
	}

	// Analysis
	if cfg.Analysis.PauseThresholdSeconds <= 0 {
		errs = append(errs, fmt.Errorf("analysis.pause_threshold_seconds %.2f must be positive", cfg.Analysis.PauseThresholdSeconds))
	}
	if cfg.Analysis.RapidRateWPM <= 0 {
		errs = append(errs, fmt.Errorf("analysis.rapid_rate_wpm %.0f must be positive", cfg.Analysis.RapidRateWPM))
	}
	if cfg.Analysis.IdealRateMinWPM >= cfg.Analysis.IdealRateMaxWPM {
		errs = append(errs, fmt.Errorf("analysis.ideal_rate_min_wpm %.0f must be below ideal_rate_max_wpm %.0f",
			cfg.Analysis.IdealRateMinWPM, cfg.Analysis.IdealRateMaxWPM))
	}
	if w := cfg.Analysis.Clarity; w.Confidence < 0 || w.Filler < 0 || w.Pace < 0 {
		errs = append(errs, errors.New("analysis.clarity weights must be non-negative"))
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: postgres, sqlite, memory", cfg.Storage.Backend))
	}
	switch cfg.Storage.Backend {
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
		}
	case StorageSQLite:
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required when storage.backend is sqlite"))
		}
	case StorageMemory:
		slog.Warn("storage.backend is memory; progress will not survive a restart")
	}

	// Embeddings ↔ index dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.Backend != StoragePostgres {
		slog.Warn("providers.embeddings requires the postgres backend for the transcript index; similar-session search will be disabled",
			"backend", cfg.Storage.Backend)
	}

	// Feedback
	if cfg.Feedback.MaxTips <= 0 {
		errs = append(errs, fmt.Errorf("feedback.max_tips %d must be positive", cfg.Feedback.MaxTips))
	}
	if cfg.Feedback.UseLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("feedback.use_llm requires providers.llm to be configured"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
